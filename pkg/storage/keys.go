package storage

import (
	"encoding/binary"
	"time"
)

// Key schema:
//
//	px:<8-byte unix ms>          → PriceSample (gob)
//	tr:<8-byte unix ms>:<id>     → TradeRecord (json)
//
// Timestamps are big-endian so lexicographic order is chronological.
const (
	prefixPrice = "px:"
	prefixTrade = "tr:"
)

func msKey(ms int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(ms))
	return k[:]
}

func priceKey(t time.Time) []byte {
	return append([]byte(prefixPrice), msKey(t.UnixMilli())...)
}

func tradeKey(ms int64, id string) []byte {
	k := append([]byte(prefixTrade), msKey(ms)...)
	k = append(k, ':')
	return append(k, id...)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
