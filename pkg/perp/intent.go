package perp

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/goldperp/pkg/fixedpoint"
)

const (
	MinLeverage         = 1
	MaxLeverage         = 10
	DefaultClosePercent = 100

	// SizeDecimals is the precision the open size is rounded to before it
	// is scaled to fixed point.
	SizeDecimals = 6
)

var (
	ErrPriceUnknown        = errors.New("price unknown")
	ErrInvalidMargin       = errors.New("margin must be a positive amount")
	ErrInvalidLeverage     = errors.New("leverage must be between 1 and 10")
	ErrSizeTooSmall        = errors.New("size rounds to zero")
	ErrInvalidClosePercent = errors.New("close percentage must be between 1 and 100")
	ErrNoPosition          = errors.New("no open position")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrSubmissionInFlight  = errors.New("a submission is already in flight")
	ErrInvalidSide         = errors.New("side must be long or short")
)

// TradeIntent is the user's pending order input.
type TradeIntent struct {
	Margin   string `json:"margin"`   // settlement currency, decimal string
	Leverage int    `json:"leverage"` // 1..10
}

// DefaultIntent matches the initial form values: 1 MNT at 3x.
func DefaultIntent() TradeIntent {
	return TradeIntent{Margin: "1", Leverage: 3}
}

// Quote is a TradeIntent priced at the current market.
type Quote struct {
	Margin   decimal.Decimal `json:"margin"`
	Leverage int             `json:"leverage"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"notional"`
	Size     decimal.Decimal `json:"size"`
}

// Quote validates the intent and derives notional = margin * leverage and
// size = notional / price (rounded to SizeDecimals).
func (i TradeIntent) Quote(price decimal.NullDecimal) (Quote, error) {
	if !price.Valid || !price.Decimal.IsPositive() {
		return Quote{}, ErrPriceUnknown
	}
	margin, err := decimal.NewFromString(strings.TrimSpace(i.Margin))
	if err != nil || !margin.IsPositive() {
		return Quote{}, ErrInvalidMargin
	}
	if i.Leverage < MinLeverage || i.Leverage > MaxLeverage {
		return Quote{}, ErrInvalidLeverage
	}

	notional := margin.Mul(decimal.NewFromInt(int64(i.Leverage)))
	return Quote{
		Margin:   margin,
		Leverage: i.Leverage,
		Price:    price.Decimal,
		Notional: notional,
		Size:     notional.DivRound(price.Decimal, SizeDecimals),
	}, nil
}

// Deltas converts the quote into the contract's fixed-point arguments.
func (q Quote) Deltas() (sizeDelta, marginDelta *big.Int, err error) {
	sizeDelta, err = fixedpoint.FromDecimal(q.Size)
	if err != nil {
		return nil, nil, err
	}
	if sizeDelta.Sign() <= 0 {
		return nil, nil, ErrSizeTooSmall
	}
	marginDelta, err = fixedpoint.FromDecimal(q.Margin)
	if err != nil {
		return nil, nil, ErrInvalidMargin
	}
	return sizeDelta, marginDelta, nil
}

// CloseSize returns floor(|size| * percent / 100) on the fixed-point value.
// percent 100 closes the whole position exactly.
func CloseSize(p *Position, percent int) (*big.Int, error) {
	if !p.IsOpen() {
		return nil, ErrNoPosition
	}
	if percent < 1 || percent > 100 {
		return nil, ErrInvalidClosePercent
	}
	out := new(big.Int).Mul(p.AbsSize(), big.NewInt(int64(percent)))
	return out.Quo(out, big.NewInt(100)), nil
}
