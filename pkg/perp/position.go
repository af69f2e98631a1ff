package perp

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/goldperp/pkg/fixedpoint"
)

// Side is the direction of a position.
type Side uint8

const (
	Long Side = iota + 1
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseSide accepts "long"/"short" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return Long, nil
	case "short":
		return Short, nil
	default:
		return 0, fmt.Errorf("invalid side %q (want long or short)", s)
	}
}

// Position is the on-chain position record, all fields 18-decimal fixed
// point. Size is signed: positive = long, negative = short.
type Position struct {
	Size       *big.Int
	EntryPrice *big.Int
	Margin     *big.Int
}

// IsOpen reports whether the record holds a non-zero size.
func (p *Position) IsOpen() bool {
	return p != nil && p.Size != nil && p.Size.Sign() != 0
}

func (p *Position) Side() Side {
	if p.Size.Sign() > 0 {
		return Long
	}
	return Short
}

// AbsSize returns |Size| in fixed point.
func (p *Position) AbsSize() *big.Int {
	return fixedpoint.Abs(p.Size)
}

// DecodedPosition is the display form of a Position at a given price.
// It is recomputed on every price or position change and never stored.
type DecodedPosition struct {
	Side      Side            `json:"side"`
	AbsSize   decimal.Decimal `json:"absSize"`
	Entry     decimal.Decimal `json:"entry"`
	MarginUSD decimal.Decimal `json:"marginUsd"`
	PnL       decimal.Decimal `json:"pnl"`
	Leverage  decimal.Decimal `json:"lev"`
}

// Decode maps a position and the current price into display metrics.
//
//	pnl = (price - entry) * absSize * (+1 long, -1 short)
//	lev = absSize * price / margin   (0 when margin is 0)
//
// A nil or zero-size position decodes to nil. An unknown price yields
// zero pnl and zero leverage.
func Decode(p *Position, price decimal.NullDecimal) *DecodedPosition {
	if !p.IsOpen() {
		return nil
	}

	d := &DecodedPosition{
		Side:      p.Side(),
		AbsSize:   fixedpoint.ToDecimal(p.AbsSize()),
		Entry:     fixedpoint.ToDecimal(p.EntryPrice),
		MarginUSD: fixedpoint.ToDecimal(p.Margin),
		PnL:       decimal.Zero,
		Leverage:  decimal.Zero,
	}
	if !price.Valid {
		return d
	}

	d.PnL = price.Decimal.Sub(d.Entry).Mul(d.AbsSize)
	if d.Side == Short {
		d.PnL = d.PnL.Neg()
	}
	if d.MarginUSD.IsPositive() {
		d.Leverage = d.AbsSize.Mul(price.Decimal).Div(d.MarginUSD)
	}
	return d
}
