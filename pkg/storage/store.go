// Package storage keeps the terminal's local history: sampled mark prices for
// the chart and a journal of submitted trades. Nothing here is authoritative;
// positions always come from the contract.
package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one successful price fetch.
type PriceSample struct {
	Price decimal.Decimal `json:"price"`
	Time  time.Time       `json:"time"`
}

// Trade statuses.
const (
	TradeConfirmed = "confirmed"
	TradeFailed    = "failed"
)

// TradeRecord is the journal entry for one open or close attempt that reached
// the wallet. Amounts are decimal strings in asset units.
type TradeRecord struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Side        string `json:"side"`
	Size        string `json:"size,omitempty"`
	Margin      string `json:"margin,omitempty"`
	Percent     int    `json:"percent,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Status      string `json:"status"`
	FailureKind string `json:"failureKind,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   int64  `json:"timestamp"` // unix ms
}

// Store is implemented by PebbleStore and MemoryStore.
type Store interface {
	SavePriceSample(s PriceSample) error
	// LoadRecentPrices returns up to limit samples, oldest first.
	LoadRecentPrices(limit int) ([]PriceSample, error)
	SaveTrade(t *TradeRecord) error
	// LoadRecentTrades returns up to limit records, newest first.
	LoadRecentTrades(limit int) ([]*TradeRecord, error)
	Close() error
}
