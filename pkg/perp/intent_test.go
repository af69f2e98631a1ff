package perp

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestQuoteDefaultIntent(t *testing.T) {
	// 1 MNT at 3x against a 2650 mark.
	q, err := DefaultIntent().Quote(price("2650.00"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !q.Notional.Equal(decimal.NewFromInt(3)) {
		t.Errorf("notional = %s, want 3", q.Notional)
	}
	// 3 / 2650 = 0.0011320754..., rounded to 6 places
	if !q.Size.Equal(decimal.RequireFromString("0.001132")) {
		t.Errorf("size = %s, want 0.001132", q.Size)
	}

	size, margin, err := q.Deltas()
	if err != nil {
		t.Fatalf("Deltas: %v", err)
	}
	if size.Cmp(fp("0.001132")) != 0 {
		t.Errorf("sizeDelta = %s", size)
	}
	if margin.Cmp(fp("1")) != 0 {
		t.Errorf("marginDelta = %s, want 1e18", margin)
	}
}

func TestQuoteWholeUnitSize(t *testing.T) {
	// notional 7950 at 2650 is exactly 3 units.
	q, err := TradeIntent{Margin: "795", Leverage: 10}.Quote(price("2650.00"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !q.Notional.Equal(decimal.NewFromInt(7950)) {
		t.Errorf("notional = %s, want 7950", q.Notional)
	}
	if q.Size.StringFixed(6) != "3.000000" {
		t.Errorf("size = %s, want 3.000000", q.Size.StringFixed(6))
	}
}

func TestQuotePreconditions(t *testing.T) {
	tests := []struct {
		name    string
		intent  TradeIntent
		price   decimal.NullDecimal
		wantErr error
	}{
		{"unknown price", TradeIntent{Margin: "1", Leverage: 3}, noPrice, ErrPriceUnknown},
		{"zero price", TradeIntent{Margin: "1", Leverage: 3}, price("0"), ErrPriceUnknown},
		{"zero margin", TradeIntent{Margin: "0", Leverage: 3}, price("2650"), ErrInvalidMargin},
		{"negative margin", TradeIntent{Margin: "-1", Leverage: 3}, price("2650"), ErrInvalidMargin},
		{"empty margin", TradeIntent{Margin: "", Leverage: 3}, price("2650"), ErrInvalidMargin},
		{"garbage margin", TradeIntent{Margin: "one", Leverage: 3}, price("2650"), ErrInvalidMargin},
		{"leverage 0", TradeIntent{Margin: "1", Leverage: 0}, price("2650"), ErrInvalidLeverage},
		{"leverage 11", TradeIntent{Margin: "1", Leverage: 11}, price("2650"), ErrInvalidLeverage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.intent.Quote(tt.price)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuoteLeverageBounds(t *testing.T) {
	for _, lev := range []int{MinLeverage, MaxLeverage} {
		if _, err := (TradeIntent{Margin: "1", Leverage: lev}).Quote(price("2650")); err != nil {
			t.Errorf("leverage %d rejected: %v", lev, err)
		}
	}
}

func TestDeltasSizeTooSmall(t *testing.T) {
	q, err := TradeIntent{Margin: "0.000001", Leverage: 1}.Quote(price("2650"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if _, _, err := q.Deltas(); !errors.Is(err, ErrSizeTooSmall) {
		t.Errorf("err = %v, want ErrSizeTooSmall", err)
	}
}

func TestCloseSize(t *testing.T) {
	tests := []struct {
		name    string
		size    *big.Int
		percent int
		want    *big.Int
	}{
		{"full close is exact", fp("2.123456789012345678"), 100, fp("2.123456789012345678")},
		{"half of 7 truncates", big.NewInt(7), 50, big.NewInt(3)},
		{"short uses magnitude", big.NewInt(-7), 50, big.NewInt(3)},
		{"1 percent", fp("2"), 1, fp("0.02")},
		{"truncates not rounds", big.NewInt(199), 1, big.NewInt(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := &Position{Size: tt.size, EntryPrice: fp("1"), Margin: fp("1")}
			got, err := CloseSize(pos, tt.percent)
			if err != nil {
				t.Fatalf("CloseSize: %v", err)
			}
			if got.Cmp(tt.want) != 0 {
				t.Errorf("CloseSize = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCloseSizeRejects(t *testing.T) {
	pos := &Position{Size: fp("1"), EntryPrice: fp("1"), Margin: fp("1")}
	for _, pct := range []int{0, -5, 101} {
		if _, err := CloseSize(pos, pct); !errors.Is(err, ErrInvalidClosePercent) {
			t.Errorf("percent %d: err = %v, want ErrInvalidClosePercent", pct, err)
		}
	}
	if _, err := CloseSize(nil, 50); !errors.Is(err, ErrNoPosition) {
		t.Errorf("nil position: err = %v, want ErrNoPosition", err)
	}
}
