package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/goldperp/pkg/perp"
	"github.com/uhyunpark/goldperp/pkg/storage"
	"github.com/uhyunpark/goldperp/pkg/terminal"
)

// API response types for REST endpoints and WebSocket messages.
// Decimal amounts are strings; raw on-chain values are base-10 integers with
// 18 implied decimals.

// ==============================
// REST Response Types
// ==============================

type StateResponse struct {
	Version        uint64                `json:"version"`
	Price          *decimal.Decimal      `json:"price"`          // null until the first successful fetch
	PriceUpdatedAt int64                 `json:"priceUpdatedAt"` // unix ms, 0 if never
	PriceError     string                `json:"priceError,omitempty"`
	Account        string                `json:"account,omitempty"`
	Connected      bool                  `json:"connected"`
	Position       *PositionResponse     `json:"position"`
	Status         terminal.Status       `json:"status"`
	LastTrade      *TradeOutcomeResponse `json:"lastTrade,omitempty"`
	Limits         Limits                `json:"limits"`
}

// Limits tells the UI how to bound and pre-fill the trade form.
type Limits struct {
	MinLeverage         int    `json:"minLeverage"`
	MaxLeverage         int    `json:"maxLeverage"`
	DefaultMargin       string `json:"defaultMargin"`
	DefaultLeverage     int    `json:"defaultLeverage"`
	DefaultClosePercent int    `json:"defaultClosePercent"`
}

type PositionResponse struct {
	Address    string                `json:"address,omitempty"`
	Size       string                `json:"size"`       // signed, raw
	EntryPrice string                `json:"entryPrice"` // raw
	Margin     string                `json:"margin"`     // raw
	Decoded    *perp.DecodedPosition `json:"decoded"`
}

type PriceResponse struct {
	Price     *decimal.Decimal `json:"price"`
	UpdatedAt int64            `json:"updatedAt"`
	Error     string           `json:"error,omitempty"`
}

type PricePoint struct {
	Time  int64           `json:"t"` // unix ms
	Price decimal.Decimal `json:"p"`
}

type TradeOutcomeResponse struct {
	ID          string         `json:"id"`
	Kind        perp.TradeKind `json:"kind"`
	Side        perp.Side      `json:"side"`
	Percent     int            `json:"percent,omitempty"`
	Size        string         `json:"size,omitempty"`
	Margin      string         `json:"margin,omitempty"`
	TxHash      string         `json:"txHash,omitempty"`
	BlockNumber uint64         `json:"blockNumber,omitempty"`
	Confirmed   bool           `json:"confirmed"`
	Failure     *FailureInfo   `json:"failure,omitempty"`
	FinishedAt  int64          `json:"finishedAt"`
}

type FailureInfo struct {
	Kind   perp.FailureKind `json:"kind"`
	Reason string           `json:"reason"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

type QuoteRequest struct {
	Margin   string `json:"margin"`
	Leverage int    `json:"leverage"`
}

type OpenRequest struct {
	Side     string `json:"side"` // "long" or "short"
	Margin   string `json:"margin"`
	Leverage int    `json:"leverage"`
}

type CloseRequest struct {
	Percent int `json:"percent"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["state"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const ChannelState = "state"

// ==============================
// Conversions
// ==============================

func nullPrice(p decimal.NullDecimal) *decimal.Decimal {
	if !p.Valid {
		return nil
	}
	d := p.Decimal
	return &d
}

func hexOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func toPositionResponse(addr common.Address, pos *perp.Position, decoded *perp.DecodedPosition) *PositionResponse {
	if !pos.IsOpen() {
		return nil
	}
	return &PositionResponse{
		Address:    hexOrEmpty(addr),
		Size:       pos.Size.String(),
		EntryPrice: pos.EntryPrice.String(),
		Margin:     pos.Margin.String(),
		Decoded:    decoded,
	}
}

func toTradeOutcome(o *terminal.TradeOutcome) *TradeOutcomeResponse {
	if o == nil {
		return nil
	}
	out := &TradeOutcomeResponse{
		ID:          o.ID,
		Kind:        o.Kind,
		Side:        o.Side,
		Percent:     o.Percent,
		Size:        o.SizeDelta,
		Margin:      o.MarginDelta,
		BlockNumber: o.BlockNumber,
		Confirmed:   o.Confirmed,
		FinishedAt:  o.FinishedAt.UnixMilli(),
	}
	if o.TxHash != (common.Hash{}) {
		out.TxHash = o.TxHash.Hex()
	}
	if o.Failure != nil {
		out.Failure = &FailureInfo{Kind: o.Failure.Kind, Reason: o.Failure.Reason}
	}
	return out
}

func toState(s terminal.Snapshot) StateResponse {
	def := perp.DefaultIntent()
	resp := StateResponse{
		Version:    s.Version,
		Price:      nullPrice(s.Price),
		PriceError: s.PriceError,
		Account:    hexOrEmpty(s.Account),
		Connected:  s.Connected,
		Position:   toPositionResponse(common.Address{}, s.Position, s.Decoded),
		Status:     s.Status,
		LastTrade:  toTradeOutcome(s.LastTrade),
		Limits: Limits{
			MinLeverage:         perp.MinLeverage,
			MaxLeverage:         perp.MaxLeverage,
			DefaultMargin:       def.Margin,
			DefaultLeverage:     def.Leverage,
			DefaultClosePercent: perp.DefaultClosePercent,
		},
	}
	if !s.PriceUpdatedAt.IsZero() {
		resp.PriceUpdatedAt = s.PriceUpdatedAt.UnixMilli()
	}
	return resp
}

func toPricePoints(samples []storage.PriceSample) []PricePoint {
	out := make([]PricePoint, len(samples))
	for i, s := range samples {
		out[i] = PricePoint{Time: s.Time.UnixMilli(), Price: s.Price}
	}
	return out
}
