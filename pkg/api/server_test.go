package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/goldperp/pkg/perp"
	"github.com/uhyunpark/goldperp/pkg/storage"
	"github.com/uhyunpark/goldperp/pkg/terminal"
)

type fakeTerminal struct {
	snap      terminal.Snapshot
	updates   chan terminal.Snapshot
	positions map[common.Address]*perp.Position
	lookupErr error
	outcome   *terminal.TradeOutcome
	tradeErr  error
	history   []storage.PriceSample
	trades    []*storage.TradeRecord

	lastSide    perp.Side
	lastIntent  perp.TradeIntent
	lastPercent int
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{
		snap:      terminal.Snapshot{Status: terminal.StatusIdle},
		updates:   make(chan terminal.Snapshot, 1),
		positions: map[common.Address]*perp.Position{},
	}
}

func (f *fakeTerminal) Snapshot() terminal.Snapshot { return f.snap }
func (f *fakeTerminal) Subscribe() (<-chan terminal.Snapshot, func()) {
	return f.updates, func() {}
}
func (f *fakeTerminal) RefreshPrice(ctx context.Context) (terminal.Snapshot, error) {
	return f.snap, nil
}
func (f *fakeTerminal) RefreshPosition(ctx context.Context) (terminal.Snapshot, error) {
	return f.snap, nil
}
func (f *fakeTerminal) Lookup(ctx context.Context, account common.Address) (*perp.Position, *perp.DecodedPosition, error) {
	if f.lookupErr != nil {
		return nil, nil, f.lookupErr
	}
	pos := f.positions[account]
	return pos, perp.Decode(pos, f.snap.Price), nil
}
func (f *fakeTerminal) Quote(intent perp.TradeIntent) (perp.Quote, error) {
	return intent.Quote(f.snap.Price)
}
func (f *fakeTerminal) OpenPosition(ctx context.Context, side perp.Side, intent perp.TradeIntent) (*terminal.TradeOutcome, error) {
	f.lastSide, f.lastIntent = side, intent
	return f.outcome, f.tradeErr
}
func (f *fakeTerminal) ClosePosition(ctx context.Context, percent int) (*terminal.TradeOutcome, error) {
	f.lastPercent = percent
	return f.outcome, f.tradeErr
}
func (f *fakeTerminal) PriceHistory(limit int) ([]storage.PriceSample, error) {
	if limit < len(f.history) {
		return f.history[len(f.history)-limit:], nil
	}
	return f.history, nil
}
func (f *fakeTerminal) Trades(limit int) ([]*storage.TradeRecord, error) { return f.trades, nil }

func newTestServer(term *fakeTerminal) *Server {
	return NewServer(term, Config{CORSOrigins: []string{"http://localhost:3000"}}, nil, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func withPrice(term *fakeTerminal, p string) {
	term.snap.Price = decimal.NewNullDecimal(decimal.RequireFromString(p))
	term.snap.PriceUpdatedAt = time.UnixMilli(1_700_000_000_000)
}

func TestGetStateBeforeFirstPrice(t *testing.T) {
	s := newTestServer(newFakeTerminal())
	rec := do(t, s, "GET", "/api/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var raw map[string]interface{}
	decodeJSON(t, rec, &raw)
	if raw["price"] != nil || raw["position"] != nil {
		t.Errorf("expected null price and position: %v", raw)
	}
	var state StateResponse
	decodeJSON(t, rec, &state)
	if state.Limits.MaxLeverage != 10 || state.Limits.DefaultLeverage != 3 || state.Limits.DefaultMargin != "1" || state.Limits.DefaultClosePercent != 100 {
		t.Errorf("limits = %+v", state.Limits)
	}
	if state.Status != terminal.StatusIdle {
		t.Errorf("status = %s", state.Status)
	}
}

func TestGetStateWithPosition(t *testing.T) {
	term := newFakeTerminal()
	withPrice(term, "2600")
	term.snap.Account = common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	term.snap.Position = &perp.Position{
		Size:       new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		EntryPrice: new(big.Int).Mul(big.NewInt(2500), big.NewInt(1e18)),
		Margin:     big.NewInt(1e18),
	}
	term.snap.Decoded = perp.Decode(term.snap.Position, term.snap.Price)

	rec := do(t, newTestServer(term), "GET", "/api/v1/state", "")
	var state StateResponse
	decodeJSON(t, rec, &state)
	if state.Price == nil || !state.Price.Equal(decimal.RequireFromString("2600")) {
		t.Errorf("price = %v", state.Price)
	}
	if state.Account != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("account = %s", state.Account)
	}
	if state.Position == nil || state.Position.Decoded == nil {
		t.Fatal("missing position")
	}
	if state.Position.Size != "2000000000000000000" {
		t.Errorf("raw size = %s", state.Position.Size)
	}
	if !state.Position.Decoded.PnL.Equal(decimal.RequireFromString("200")) {
		t.Errorf("pnl = %s", state.Position.Decoded.PnL)
	}
	if !strings.Contains(rec.Body.String(), `"side":"LONG"`) {
		t.Errorf("side not rendered as text: %s", rec.Body.String())
	}
}

func TestQuote(t *testing.T) {
	term := newFakeTerminal()
	s := newTestServer(term)

	rec := do(t, s, "POST", "/api/v1/quote", `{"margin":"1","leverage":3}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("quote without price: status = %d, want 409", rec.Code)
	}

	withPrice(term, "2650")
	rec = do(t, s, "POST", "/api/v1/quote", `{"margin":"795","leverage":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var q perp.Quote
	decodeJSON(t, rec, &q)
	if !q.Size.Equal(decimal.RequireFromString("3")) || !q.Notional.Equal(decimal.RequireFromString("7950")) {
		t.Errorf("quote = %+v", q)
	}

	rec = do(t, s, "POST", "/api/v1/quote", `{"margin":"1","leverage":11}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("leverage 11: status = %d, want 400", rec.Code)
	}
	rec = do(t, s, "POST", "/api/v1/quote", `{"margin":"1","leverage":3,"extra":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d, want 400", rec.Code)
	}
}

func TestOpenPosition(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		outcome    *terminal.TradeOutcome
		err        error
		wantStatus int
		wantInBody string
	}{
		{
			name:       "confirmed",
			body:       `{"side":"long","margin":"1","leverage":3}`,
			outcome:    &terminal.TradeOutcome{ID: "t1", Kind: perp.KindOpen, Side: perp.Long, SizeDelta: "0.001132", Confirmed: true, TxHash: common.HexToHash("0x01")},
			wantStatus: http.StatusOK,
			wantInBody: `"confirmed":true`,
		},
		{
			name:       "bad side",
			body:       `{"side":"up","margin":"1","leverage":3}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not connected",
			body:       `{"side":"short","margin":"1","leverage":3}`,
			err:        perp.ErrNotConnected,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "in flight",
			body:       `{"side":"short","margin":"1","leverage":3}`,
			err:        perp.ErrSubmissionInFlight,
			wantStatus: http.StatusConflict,
		},
		{
			name: "user rejected",
			body: `{"side":"LONG","margin":"1","leverage":3}`,
			outcome: &terminal.TradeOutcome{ID: "t2", Kind: perp.KindOpen, Side: perp.Long,
				Failure: &perp.TxError{Kind: perp.FailureUserRejected, Reason: "request denied"}},
			err:        &perp.TxError{Kind: perp.FailureUserRejected, Reason: "request denied"},
			wantStatus: http.StatusUnprocessableEntity,
			wantInBody: `"kind":"user_rejected"`,
		},
		{
			name:       "malformed",
			body:       `{"side":`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := newFakeTerminal()
			term.outcome, term.tradeErr = tt.outcome, tt.err
			rec := do(t, newTestServer(term), "POST", "/api/v1/positions/open", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantInBody != "" && !strings.Contains(rec.Body.String(), tt.wantInBody) {
				t.Errorf("body %s missing %s", rec.Body.String(), tt.wantInBody)
			}
		})
	}
}

func TestOpenPassesIntent(t *testing.T) {
	term := newFakeTerminal()
	term.outcome = &terminal.TradeOutcome{Confirmed: true}
	do(t, newTestServer(term), "POST", "/api/v1/positions/open", `{"side":"short","margin":"2.5","leverage":7}`)
	if term.lastSide != perp.Short || term.lastIntent.Margin != "2.5" || term.lastIntent.Leverage != 7 {
		t.Errorf("side = %s intent = %+v", term.lastSide, term.lastIntent)
	}
}

func TestClosePosition(t *testing.T) {
	term := newFakeTerminal()
	term.tradeErr = perp.ErrNoPosition
	s := newTestServer(term)

	rec := do(t, s, "POST", "/api/v1/positions/close", `{"percent":50}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if term.lastPercent != 50 {
		t.Errorf("percent = %d, want 50", term.lastPercent)
	}

	term.tradeErr = perp.ErrInvalidClosePercent
	if rec := do(t, s, "POST", "/api/v1/positions/close", `{"percent":101}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAccountPosition(t *testing.T) {
	term := newFakeTerminal()
	withPrice(term, "2600")
	addr := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	term.positions[addr] = &perp.Position{Size: big.NewInt(-5), EntryPrice: big.NewInt(1), Margin: big.NewInt(1)}
	s := newTestServer(term)

	rec := do(t, s, "GET", "/api/v1/accounts/0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed/position", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var pos PositionResponse
	decodeJSON(t, rec, &pos)
	if pos.Size != "-5" || pos.Decoded == nil || pos.Decoded.Side != perp.Short {
		t.Errorf("position = %+v", pos)
	}

	rec = do(t, s, "GET", "/api/v1/accounts/0x0000000000000000000000000000000000000001/position", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("no position: status = %d body = %s", rec.Code, rec.Body.String())
	}

	for _, bad := range []string{"0x123", "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "alice"} {
		if rec := do(t, s, "GET", "/api/v1/accounts/"+bad+"/position", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", bad, rec.Code)
		}
	}

	term.lookupErr = errors.New("rpc down")
	if rec := do(t, s, "GET", "/api/v1/accounts/0x0000000000000000000000000000000000000001/position", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("lookup failure: status = %d, want 502", rec.Code)
	}
}

func TestPriceHistoryAndTrades(t *testing.T) {
	term := newFakeTerminal()
	for i := 0; i < 5; i++ {
		term.history = append(term.history, storage.PriceSample{
			Price: decimal.NewFromInt(int64(2600 + i)),
			Time:  time.UnixMilli(int64(1000 * (i + 1))),
		})
	}
	s := newTestServer(term)

	rec := do(t, s, "GET", "/api/v1/prices/history?limit=2", "")
	var points []PricePoint
	decodeJSON(t, rec, &points)
	if len(points) != 2 || points[0].Time != 4000 || !points[1].Price.Equal(decimal.NewFromInt(2604)) {
		t.Errorf("points = %+v", points)
	}
	if rec := do(t, s, "GET", "/api/v1/prices/history?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d", rec.Code)
	}

	rec = do(t, s, "GET", "/api/v1/trades", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty journal body = %s, want []", rec.Body.String())
	}
}

func TestCORSAndHealth(t *testing.T) {
	s := newTestServer(newFakeTerminal())

	req := httptest.NewRequest("OPTIONS", "/api/v1/state", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allowed origin = %q", got)
	}

	req = httptest.NewRequest("GET", "/api/v1/state", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}

	if rec := do(t, s, "GET", "/health", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestWebSocketStateChannel(t *testing.T) {
	term := newFakeTerminal()
	withPrice(term, "2650")
	s := newTestServer(term)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)
	go s.broadcastState(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelState}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	read := func() StateResponse {
		t.Helper()
		var msg struct {
			Type string        `json:"type"`
			Data StateResponse `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != ChannelState {
			t.Fatalf("type = %s", msg.Type)
		}
		return msg.Data
	}

	first := read()
	if first.Price == nil || !first.Price.Equal(decimal.RequireFromString("2650")) {
		t.Errorf("initial state price = %v", first.Price)
	}

	next := term.snap
	next.Version = 9
	next.Status = terminal.StatusSubmitting
	term.updates <- next
	got := read()
	if got.Version != 9 || got.Status != terminal.StatusSubmitting {
		t.Errorf("pushed state = %+v", got)
	}
}
