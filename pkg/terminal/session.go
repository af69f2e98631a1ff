// Package terminal holds the trading session: the current price, the
// connected account's position and the state of trade submissions. All state
// changes are applied in order by a single loop goroutine and published as
// immutable snapshots.
package terminal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/goldperp/pkg/fixedpoint"
	"github.com/uhyunpark/goldperp/pkg/metrics"
	"github.com/uhyunpark/goldperp/pkg/perp"
	"github.com/uhyunpark/goldperp/pkg/storage"
	"github.com/uhyunpark/goldperp/pkg/util"
)

var (
	ErrClosed        = errors.New("terminal: session stopped")
	ErrSignerAccount = errors.New("terminal: account is fixed by the connected wallet")

	errUnchanged = errors.New("unchanged")
	errStaleRead = errors.New("stale")
)

// PriceSource returns the current asset price. *pricefeed.Client implements it.
type PriceSource interface {
	FetchPrice(ctx context.Context) (decimal.Decimal, error)
}

// PositionReader reads on-chain positions. *perp.Market implements it.
type PositionReader interface {
	ReadPosition(ctx context.Context, owner common.Address) (*perp.Position, error)
}

// Trader submits trades. *perp.Submitter implements it.
type Trader interface {
	Connected() bool
	Account() common.Address
	Open(ctx context.Context, order perp.OpenOrder) (*perp.TradeResult, error)
	Close(ctx context.Context, order perp.CloseOrder) (*perp.TradeResult, error)
}

type Deps struct {
	Feed   PriceSource
	Reader PositionReader
	Trader Trader

	// Optional.
	Store        storage.Store
	Metrics      *metrics.Metrics
	Clock        util.Clock
	Logger       *zap.SugaredLogger
	PollInterval time.Duration
	// WatchAddress is the account shown when Trader has no wallet.
	WatchAddress common.Address
}

type command struct {
	fn   reducer
	done chan result
}

type result struct {
	snap Snapshot
	err  error
}

type Session struct {
	feed    PriceSource
	reader  PositionReader
	trader  Trader
	store   storage.Store
	metrics *metrics.Metrics
	clock   util.Clock
	logger  *zap.SugaredLogger
	poll    time.Duration

	commands chan command
	stopped  chan struct{}
	current  atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

func New(d Deps) *Session {
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}

	initial := Snapshot{Status: StatusIdle}
	if d.Trader.Connected() {
		initial.Connected = true
		initial.Account = d.Trader.Account()
	} else {
		initial.Account = d.WatchAddress
	}

	s := &Session{
		feed:     d.Feed,
		reader:   d.Reader,
		trader:   d.Trader,
		store:    d.Store,
		metrics:  d.Metrics,
		clock:    d.Clock,
		logger:   d.Logger,
		poll:     d.PollInterval,
		commands: make(chan command),
		stopped:  make(chan struct{}),
		subs:     make(map[int]chan Snapshot),
	}
	s.current.Store(&initial)
	return s
}

// Run applies state changes until ctx is cancelled. It must be running for
// any other method except Snapshot and Subscribe to make progress.
func (s *Session) Run(ctx context.Context) {
	defer close(s.stopped)
	if s.poll > 0 {
		go s.pollPrices(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			cur := *s.current.Load()
			next, err := cmd.fn(cur)
			if err != nil {
				cmd.done <- result{snap: cur, err: err}
				continue
			}
			next.Version = cur.Version + 1
			s.current.Store(&next)
			s.observe(next)
			s.publish(next)
			cmd.done <- result{snap: next}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, fn reducer) (Snapshot, error) {
	done := make(chan result, 1)
	select {
	case s.commands <- command{fn: fn, done: done}:
	case <-s.stopped:
		return s.Snapshot(), ErrClosed
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
	r := <-done
	return r.snap, r.err
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot { return *s.current.Load() }

// Subscribe returns a channel that receives every new snapshot. Slow
// readers only see the most recent one. cancel releases the subscription.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// publish runs on the loop goroutine only, so the drain-then-send below
// never blocks.
func (s *Session) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Session) observe(snap Snapshot) {
	if snap.Decoded == nil {
		s.metrics.PositionDecoded(false, 0, 0)
		return
	}
	s.metrics.PositionDecoded(true, snap.Decoded.PnL.InexactFloat64(), snap.Decoded.Leverage.InexactFloat64())
}

// RefreshPrice fetches the price once. On failure the previous price is kept
// and the error is recorded in the snapshot.
func (s *Session) RefreshPrice(ctx context.Context) (Snapshot, error) {
	price, err := s.feed.FetchPrice(ctx)
	if err != nil {
		s.metrics.PriceFetched(0, err)
		s.logger.Warnw("price_fetch_failed", "err", err)
		snap, derr := s.dispatch(ctx, priceFailed(err))
		if derr != nil {
			return snap, derr
		}
		return snap, err
	}

	now := s.clock.Now()
	s.metrics.PriceFetched(price.InexactFloat64(), nil)
	if s.store != nil {
		if err := s.store.SavePriceSample(storage.PriceSample{Price: price, Time: now}); err != nil {
			s.logger.Warnw("price_sample_save_failed", "err", err)
		}
	}
	s.logger.Debugw("price_fetched", "price", price.String())
	return s.dispatch(ctx, priceFetched(price, now))
}

// RefreshPosition re-reads the selected account's position. A failed read
// leaves the position unknown (nil).
func (s *Session) RefreshPosition(ctx context.Context) (Snapshot, error) {
	account := s.Snapshot().Account
	if account == (common.Address{}) {
		return s.dispatch(ctx, positionLoaded(account, nil))
	}

	pos, err := s.reader.ReadPosition(ctx, account)
	s.metrics.PositionRead(err)
	if err != nil {
		s.logger.Warnw("position_read_failed", "account", account.Hex(), "err", err)
		snap, derr := s.dispatch(ctx, positionLoaded(account, nil))
		if derr != nil && !errors.Is(derr, errStaleRead) {
			return snap, derr
		}
		return snap, err
	}

	snap, err := s.dispatch(ctx, positionLoaded(account, pos))
	if errors.Is(err, errStaleRead) {
		// account switched while reading; the new account's read wins
		return snap, nil
	}
	return snap, err
}

// Connect selects the account to watch. With a signing wallet attached only
// the wallet's own address is accepted.
func (s *Session) Connect(ctx context.Context, account common.Address) (Snapshot, error) {
	if s.trader.Connected() && account != s.trader.Account() {
		return s.Snapshot(), ErrSignerAccount
	}
	_, err := s.dispatch(ctx, accountChanged(account))
	if err != nil && !errors.Is(err, errUnchanged) {
		return s.Snapshot(), err
	}
	s.logger.Infow("account_selected", "account", account.Hex())
	return s.RefreshPosition(ctx)
}

// Bootstrap loads price and position concurrently. Both are attempted even
// if one fails.
func (s *Session) Bootstrap(ctx context.Context) error {
	var wg sync.WaitGroup
	var priceErr, posErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, priceErr = s.RefreshPrice(ctx)
	}()
	go func() {
		defer wg.Done()
		_, posErr = s.RefreshPosition(ctx)
	}()
	wg.Wait()
	return errors.Join(priceErr, posErr)
}

// Quote previews intent at the current price.
func (s *Session) Quote(intent perp.TradeIntent) (perp.Quote, error) {
	return intent.Quote(s.Snapshot().Price)
}

// Lookup reads and decodes any account's position without selecting it.
func (s *Session) Lookup(ctx context.Context, account common.Address) (*perp.Position, *perp.DecodedPosition, error) {
	pos, err := s.reader.ReadPosition(ctx, account)
	s.metrics.PositionRead(err)
	if err != nil {
		return nil, nil, err
	}
	return pos, perp.Decode(pos, s.Snapshot().Price), nil
}

// PriceHistory returns up to limit stored price samples, oldest first.
func (s *Session) PriceHistory(limit int) ([]storage.PriceSample, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.LoadRecentPrices(limit)
}

// Trades returns up to limit journal entries, newest first.
func (s *Session) Trades(limit int) ([]*storage.TradeRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.LoadRecentTrades(limit)
}

func (s *Session) pollPrices(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.poll):
			_, _ = s.RefreshPrice(ctx)
		}
	}
}

// OpenPosition submits an open at the current snapshot price. The returned
// outcome is nil when the request failed before anything was sent.
func (s *Session) OpenPosition(ctx context.Context, side perp.Side, intent perp.TradeIntent) (*TradeOutcome, error) {
	snap := s.Snapshot()
	return s.submit(ctx, perp.KindOpen, func() (*perp.TradeResult, error) {
		return s.trader.Open(ctx, perp.OpenOrder{Side: side, Intent: intent, Price: snap.Price})
	})
}

// ClosePosition submits a close of percent of the current snapshot position.
func (s *Session) ClosePosition(ctx context.Context, percent int) (*TradeOutcome, error) {
	snap := s.Snapshot()
	return s.submit(ctx, perp.KindClose, func() (*perp.TradeResult, error) {
		return s.trader.Close(ctx, perp.CloseOrder{Position: snap.Position, Percent: percent})
	})
}

func (s *Session) submit(ctx context.Context, kind perp.TradeKind, send func() (*perp.TradeResult, error)) (*TradeOutcome, error) {
	id := uuid.NewString()
	if _, err := s.dispatch(ctx, submissionStarted(id)); err != nil {
		return nil, err
	}
	account := s.Snapshot().Account
	started := s.clock.Now()

	res, err := send()

	var txErr *perp.TxError
	if err != nil && !errors.As(err, &txErr) {
		// precondition failure: nothing reached the wallet
		s.logger.Infow("trade_rejected", "kind", string(kind), "err", err)
		_, _ = s.dispatch(context.WithoutCancel(ctx), submissionAborted(id))
		return nil, err
	}

	outcome := &TradeOutcome{
		ID:         id,
		Kind:       kind,
		Confirmed:  err == nil,
		Failure:    txErr,
		FinishedAt: s.clock.Now(),
	}
	if res != nil {
		outcome.Side = res.Side
		outcome.Percent = res.Percent
		outcome.TxHash = res.TxHash
		outcome.BlockNumber = res.BlockNumber
		if res.SizeDelta != nil {
			outcome.SizeDelta = fixedpoint.FormatUnits(res.SizeDelta)
		}
		if res.MarginDelta != nil {
			outcome.MarginDelta = fixedpoint.FormatUnits(res.MarginDelta)
		}
	}

	label := "confirmed"
	if txErr != nil {
		label = txErr.Kind.String()
		s.logger.Warnw("trade_failed", "id", id, "kind", string(kind), "failure", label, "reason", txErr.Reason, "tx", outcome.TxHash.Hex())
	} else {
		s.logger.Infow("trade_confirmed", "id", id, "kind", string(kind), "tx", outcome.TxHash.Hex(), "block", outcome.BlockNumber)
	}
	s.metrics.TradeFinished(string(kind), label, outcome.FinishedAt.Sub(started))
	s.journal(outcome)

	var pos *perp.Position
	if res != nil {
		pos = res.Position
	}
	snap, derr := s.dispatch(context.WithoutCancel(ctx), submissionFinished(id, outcome, account, txErr == nil, pos))
	if derr != nil {
		s.logger.Warnw("trade_outcome_dropped", "id", id, "err", derr)
	}

	// confirmed outcomes carry the re-read position already
	if txErr != nil && snap.Account == account {
		_, _ = s.RefreshPosition(context.WithoutCancel(ctx))
	}

	if txErr != nil {
		return outcome, txErr
	}
	return outcome, nil
}

func (s *Session) journal(o *TradeOutcome) {
	if s.store == nil {
		return
	}
	rec := &storage.TradeRecord{
		ID:          o.ID,
		Kind:        string(o.Kind),
		Side:        o.Side.String(),
		Size:        o.SizeDelta,
		Margin:      o.MarginDelta,
		Percent:     o.Percent,
		BlockNumber: o.BlockNumber,
		Status:      storage.TradeConfirmed,
		Timestamp:   o.FinishedAt.UnixMilli(),
	}
	if o.TxHash != (common.Hash{}) {
		rec.TxHash = o.TxHash.Hex()
	}
	if o.Failure != nil {
		rec.Status = storage.TradeFailed
		rec.FailureKind = o.Failure.Kind.String()
		rec.Reason = o.Failure.Reason
	}
	if err := s.store.SaveTrade(rec); err != nil {
		s.logger.Warnw("trade_journal_failed", "id", o.ID, "err", err)
	}
}
