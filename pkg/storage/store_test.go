package storage

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ps, err := NewPebbleStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { ps.Close() })
	return map[string]Store{
		"pebble": ps,
		"memory": NewMemoryStore(),
	}
}

func sampleAt(base time.Time, i int, price string) PriceSample {
	return PriceSample{Price: decimal.RequireFromString(price), Time: base.Add(time.Duration(i) * time.Second)}
}

func TestPriceHistory(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			// out of order on purpose
			for _, i := range []int{2, 0, 3, 1} {
				if err := s.SavePriceSample(sampleAt(base, i, fmt.Sprintf("26%02d.5", i))); err != nil {
					t.Fatalf("SavePriceSample: %v", err)
				}
			}

			got, err := s.LoadRecentPrices(3)
			if err != nil {
				t.Fatalf("LoadRecentPrices: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			for k, i := range []int{1, 2, 3} {
				want := sampleAt(base, i, fmt.Sprintf("26%02d.5", i))
				if !got[k].Time.Equal(want.Time) || !got[k].Price.Equal(want.Price) {
					t.Errorf("sample %d = %v@%v, want %v@%v", k, got[k].Price, got[k].Time, want.Price, want.Time)
				}
			}

			all, _ := s.LoadRecentPrices(100)
			if len(all) != 4 {
				t.Errorf("len(all) = %d, want 4", len(all))
			}
			none, _ := s.LoadRecentPrices(0)
			if len(none) != 0 {
				t.Errorf("limit 0 returned %d samples", len(none))
			}
		})
	}
}

func TestPriceSampleSameMillisecondOverwrites(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			s.SavePriceSample(PriceSample{Price: decimal.RequireFromString("1"), Time: at})
			s.SavePriceSample(PriceSample{Price: decimal.RequireFromString("2"), Time: at})
			got, _ := s.LoadRecentPrices(10)
			if len(got) != 1 || !got[0].Price.Equal(decimal.RequireFromString("2")) {
				t.Errorf("got %v, want single sample at 2", got)
			}
		})
	}
}

func TestTradeJournal(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			records := []*TradeRecord{
				{ID: "a", Kind: "open", Side: "LONG", Size: "0.001132", Margin: "1", Status: TradeConfirmed, TxHash: "0x01", Timestamp: 1000},
				{ID: "b", Kind: "close", Side: "LONG", Percent: 100, Status: TradeFailed, FailureKind: "user_rejected", Timestamp: 3000},
				{ID: "c", Kind: "open", Side: "SHORT", Size: "2", Margin: "5", Status: TradeConfirmed, Timestamp: 2000},
			}
			for _, r := range records {
				if err := s.SaveTrade(r); err != nil {
					t.Fatalf("SaveTrade: %v", err)
				}
			}

			got, err := s.LoadRecentTrades(2)
			if err != nil {
				t.Fatalf("LoadRecentTrades: %v", err)
			}
			if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
				t.Fatalf("got %+v, want b then c", got)
			}
			if got[0].FailureKind != "user_rejected" || got[0].Percent != 100 {
				t.Errorf("record not preserved: %+v", got[0])
			}
		})
	}
}

func TestCorruptTradeIsSkippedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := NewPebbleStore(t.TempDir(), zap.New(core).Sugar())
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer s.Close()

	for _, r := range []*TradeRecord{
		{ID: "a", Kind: "open", Status: TradeConfirmed, Timestamp: 1000},
		{ID: "c", Kind: "open", Status: TradeConfirmed, Timestamp: 3000},
	} {
		if err := s.SaveTrade(r); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}
	if err := s.db.Set(tradeKey(2000, "broken"), []byte("{not json"), pebble.Sync); err != nil {
		t.Fatalf("write corrupt entry: %v", err)
	}

	got, err := s.LoadRecentTrades(2)
	if err != nil {
		t.Fatalf("LoadRecentTrades: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("got %+v, want c then a", got)
	}

	skipped := logs.FilterMessage("store_entry_skipped").All()
	if len(skipped) != 1 {
		t.Fatalf("skip log entries = %d, want 1", len(skipped))
	}
	if key, _ := skipped[0].ContextMap()["key"].(string); !strings.Contains(key, "broken") {
		t.Errorf("logged key = %q, want it to name the corrupt entry", key)
	}
}

func TestPebbleStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebbleStore(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	at := time.UnixMilli(1_700_000_000_000)
	s.SavePriceSample(PriceSample{Price: decimal.RequireFromString("2650.1"), Time: at})
	s.SaveTrade(&TradeRecord{ID: "x", Kind: "open", Status: TradeConfirmed, Timestamp: at.UnixMilli()})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewPebbleStore(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	prices, _ := s.LoadRecentPrices(10)
	if len(prices) != 1 || !prices[0].Price.Equal(decimal.RequireFromString("2650.1")) {
		t.Errorf("prices after reopen = %v", prices)
	}
	trades, _ := s.LoadRecentTrades(10)
	if len(trades) != 1 || trades[0].ID != "x" {
		t.Errorf("trades after reopen = %v", trades)
	}
}

func TestSaveTradeRequiresID(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.SaveTrade(&TradeRecord{Kind: "open"}); err == nil {
		t.Error("expected error for record without id")
	}
}

func TestKeyUpperBound(t *testing.T) {
	if got := string(keyUpperBound([]byte("px:"))); got != "px;" {
		t.Errorf("keyUpperBound(px:) = %q, want px;", got)
	}
	a, b := tradeKey(1, "z"), tradeKey(2, "a")
	if string(a) >= string(b) {
		t.Error("trade keys must sort by timestamp first")
	}
}
