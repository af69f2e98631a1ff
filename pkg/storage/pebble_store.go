package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// errSkip tells scanBackward to drop an entry without counting it.
var errSkip = errors.New("skip entry")

type PebbleStore struct {
	db     *pebble.DB
	logger *zap.SugaredLogger
}

func NewPebbleStore(path string, logger *zap.SugaredLogger) (*PebbleStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SavePriceSample persists a price sample. Samples within the same
// millisecond overwrite each other.
func (s *PebbleStore) SavePriceSample(p PriceSample) error {
	val, err := encodeGob(p)
	if err != nil {
		return fmt.Errorf("encode price sample: %w", err)
	}
	if err := s.db.Set(priceKey(p.Time), val, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save price sample: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadRecentPrices(limit int) ([]PriceSample, error) {
	var out []PriceSample
	err := s.scanBackward([]byte(prefixPrice), limit, func(v []byte) error {
		var p PriceSample
		if err := decodeGob(v, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveTrade persists a trade record. Records are synced since they are the
// only local trace of a submission.
func (s *PebbleStore) SaveTrade(t *TradeRecord) error {
	if t.ID == "" {
		return errors.New("trade record has no id")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.Timestamp, t.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadRecentTrades(limit int) ([]*TradeRecord, error) {
	var trades []*TradeRecord
	err := s.scanBackward([]byte(prefixTrade), limit, func(v []byte) error {
		var t TradeRecord
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("%w: %v", errSkip, err)
		}
		trades = append(trades, &t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// scanBackward visits up to limit values under prefix, newest key first.
// A non-positive limit visits nothing. Entries fn rejects with errSkip are
// logged and not counted.
func (s *PebbleStore) scanBackward(prefix []byte, limit int, fn func(v []byte) error) error {
	if limit <= 0 {
		return nil
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for iter.Last(); iter.Valid() && n < limit; iter.Prev() {
		if err := fn(iter.Value()); err != nil {
			if errors.Is(err, errSkip) {
				s.logger.Warnw("store_entry_skipped", "key", fmt.Sprintf("%q", iter.Key()), "err", err)
				continue
			}
			return fmt.Errorf("decode %q: %w", iter.Key(), err)
		}
		n++
	}
	return iter.Error()
}

var _ Store = (*PebbleStore)(nil)
