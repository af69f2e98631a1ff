package storage

import (
	"errors"
	"sort"
	"sync"
)

// MemoryStore is a Store kept in process memory. Used when no data directory
// is configured and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	prices []PriceSample
	trades []*TradeRecord
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SavePriceSample(p PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := p.Time.UnixMilli()
	i := sort.Search(len(s.prices), func(i int) bool { return s.prices[i].Time.UnixMilli() >= ms })
	if i < len(s.prices) && s.prices[i].Time.UnixMilli() == ms {
		s.prices[i] = p
		return nil
	}
	s.prices = append(s.prices, PriceSample{})
	copy(s.prices[i+1:], s.prices[i:])
	s.prices[i] = p
	return nil
}

func (s *MemoryStore) LoadRecentPrices(limit int) ([]PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	start := len(s.prices) - limit
	if start < 0 {
		start = 0
	}
	return append([]PriceSample(nil), s.prices[start:]...), nil
}

func (s *MemoryStore) SaveTrade(t *TradeRecord) error {
	if t.ID == "" {
		return errors.New("trade record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades = append(s.trades, &cp)
	sort.SliceStable(s.trades, func(i, j int) bool { return s.trades[i].Timestamp < s.trades[j].Timestamp })
	return nil
}

func (s *MemoryStore) LoadRecentTrades(limit int) ([]*TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TradeRecord
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.trades[i]
		out = append(out, &cp)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
