package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/goldperp/pkg/metrics"
	"github.com/uhyunpark/goldperp/pkg/perp"
	"github.com/uhyunpark/goldperp/pkg/storage"
	"github.com/uhyunpark/goldperp/pkg/terminal"
	"github.com/uhyunpark/goldperp/pkg/wallet"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 5000
	defaultTradesLimit  = 50
	maxBodyBytes        = 1 << 16
)

// Terminal is the session surface the API serves. *terminal.Session
// implements it.
type Terminal interface {
	Snapshot() terminal.Snapshot
	Subscribe() (<-chan terminal.Snapshot, func())
	RefreshPrice(ctx context.Context) (terminal.Snapshot, error)
	RefreshPosition(ctx context.Context) (terminal.Snapshot, error)
	Lookup(ctx context.Context, account common.Address) (*perp.Position, *perp.DecodedPosition, error)
	Quote(intent perp.TradeIntent) (perp.Quote, error)
	OpenPosition(ctx context.Context, side perp.Side, intent perp.TradeIntent) (*terminal.TradeOutcome, error)
	ClosePosition(ctx context.Context, percent int) (*terminal.TradeOutcome, error)
	PriceHistory(limit int) ([]storage.PriceSample, error)
	Trades(limit int) ([]*storage.TradeRecord, error)
}

type Config struct {
	Addr        string
	CORSOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	term    Terminal
	cfg     Config
	router  *mux.Router
	hub     *Hub
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewServer(term Terminal, cfg Config, m *metrics.Metrics, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		term:    term,
		cfg:     cfg,
		router:  mux.NewRouter(),
		metrics: m,
		logger:  logger,
	}
	s.hub = NewHub(s.currentChannel, logger, m)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/state", s.handleGetState).Methods("GET")

	// Price
	api.HandleFunc("/price", s.handleGetPrice).Methods("GET")
	api.HandleFunc("/price/refresh", s.handleRefreshPrice).Methods("POST")
	api.HandleFunc("/prices/history", s.handlePriceHistory).Methods("GET")

	// Positions
	api.HandleFunc("/position/refresh", s.handleRefreshPosition).Methods("POST")
	api.HandleFunc("/accounts/{address}/position", s.handleGetAccountPosition).Methods("GET")

	// Trading
	api.HandleFunc("/quote", s.handleQuote).Methods("POST")
	api.HandleFunc("/positions/open", s.handleOpen).Methods("POST")
	api.HandleFunc("/positions/close", s.handleClose).Methods("POST")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.broadcastState(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// broadcastState pushes every new snapshot to the state channel.
func (s *Server) broadcastState(ctx context.Context) {
	updates, cancel := s.term.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			s.hub.BroadcastToChannel(ChannelState, WSMessage{Type: ChannelState, Data: toState(snap)})
		}
	}
}

func (s *Server) currentChannel(channel string) (interface{}, bool) {
	if channel != ChannelState {
		return nil, false
	}
	return WSMessage{Type: ChannelState, Data: toState(s.term.Snapshot())}, true
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, toState(s.term.Snapshot()))
}

func priceResponse(snap terminal.Snapshot) PriceResponse {
	resp := PriceResponse{Price: nullPrice(snap.Price), Error: snap.PriceError}
	if !snap.PriceUpdatedAt.IsZero() {
		resp.UpdatedAt = snap.PriceUpdatedAt.UnixMilli()
	}
	return resp
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, priceResponse(s.term.Snapshot()))
}

// handleRefreshPrice always answers with the resulting price state; a failed
// fetch is reported in the error field with the previous price kept.
func (s *Server) handleRefreshPrice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.term.RefreshPrice(r.Context())
	if errors.Is(err, terminal.ErrClosed) {
		respondError(w, http.StatusServiceUnavailable, "session stopped", "")
		return
	}
	respondJSON(w, priceResponse(snap))
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		return
	}
	samples, err := s.term.PriceHistory(limit)
	if err != nil {
		s.logger.Errorw("price_history_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "history unavailable", err.Error())
		return
	}
	respondJSON(w, toPricePoints(samples))
}

func (s *Server) handleRefreshPosition(w http.ResponseWriter, r *http.Request) {
	snap, err := s.term.RefreshPosition(r.Context())
	if errors.Is(err, terminal.ErrClosed) {
		respondError(w, http.StatusServiceUnavailable, "session stopped", "")
		return
	}
	respondJSON(w, toState(snap))
}

func (s *Server) handleGetAccountPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := wallet.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	pos, decoded, err := s.term.Lookup(r.Context(), addr)
	if err != nil {
		s.logger.Warnw("position_lookup_failed", "account", addr.Hex(), "err", err)
		respondError(w, http.StatusBadGateway, "position read failed", err.Error())
		return
	}
	// null body: no open position
	respondJSON(w, toPositionResponse(addr, pos, decoded))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := s.term.Quote(perp.TradeIntent{Margin: req.Margin, Leverage: req.Leverage})
	if err != nil {
		respondTradeError(w, err, nil)
		return
	}
	respondJSON(w, q)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, err := perp.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, perp.ErrInvalidSide.Error(), err.Error())
		return
	}
	// the transaction outlives a dropped HTTP client
	ctx := context.WithoutCancel(r.Context())
	outcome, err := s.term.OpenPosition(ctx, side, perp.TradeIntent{Margin: req.Margin, Leverage: req.Leverage})
	if err != nil {
		respondTradeError(w, err, outcome)
		return
	}
	respondJSON(w, toTradeOutcome(outcome))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	outcome, err := s.term.ClosePosition(ctx, req.Percent)
	if err != nil {
		respondTradeError(w, err, outcome)
		return
	}
	respondJSON(w, toTradeOutcome(outcome))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultTradesLimit, maxHistoryLimit)
	if !ok {
		return
	}
	trades, err := s.term.Trades(limit)
	if err != nil {
		s.logger.Errorw("trade_journal_read_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "journal unavailable", err.Error())
		return
	}
	if trades == nil {
		trades = []*storage.TradeRecord{}
	}
	respondJSON(w, trades)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":    "ok",
		"wsClients": s.hub.ClientCount(),
	})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatusJSON(w, status, ErrorResponse{Error: error, Message: message})
}

// tradeErrorStatus maps trade errors onto HTTP statuses: bad input is 400,
// a session state that forbids the request is 409, and a transaction that
// reached the wallet but failed is 422.
func tradeErrorStatus(err error) int {
	var txErr *perp.TxError
	switch {
	case errors.As(err, &txErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, perp.ErrInvalidMargin),
		errors.Is(err, perp.ErrInvalidLeverage),
		errors.Is(err, perp.ErrInvalidClosePercent),
		errors.Is(err, perp.ErrInvalidSide),
		errors.Is(err, perp.ErrSizeTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, perp.ErrPriceUnknown),
		errors.Is(err, perp.ErrNoPosition),
		errors.Is(err, perp.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, perp.ErrNotConnected):
		return http.StatusForbidden
	case errors.Is(err, terminal.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondTradeError(w http.ResponseWriter, err error, outcome *terminal.TradeOutcome) {
	status := tradeErrorStatus(err)
	if outcome != nil {
		respondStatusJSON(w, status, toTradeOutcome(outcome))
		return
	}
	respondError(w, status, err.Error(), "")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "invalid limit", raw)
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
