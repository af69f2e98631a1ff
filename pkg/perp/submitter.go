package perp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Contract is the PerpMarket surface the submitter drives. *Market
// implements it.
type Contract interface {
	ReadPosition(ctx context.Context, owner common.Address) (*Position, error)
	OpenPosition(opts *bind.TransactOpts, isLong bool, sizeDelta, marginDelta *big.Int) (*types.Transaction, error)
	ClosePosition(opts *bind.TransactOpts, closeSizeDelta *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Wallet signs transactions for the connected account.
type Wallet interface {
	Address() common.Address
	Transactor(ctx context.Context) (*bind.TransactOpts, error)
}

type TradeKind string

const (
	KindOpen  TradeKind = "open"
	KindClose TradeKind = "close"
)

// OpenOrder is a validated-at-submit request to open or increase a position.
type OpenOrder struct {
	Side   Side
	Intent TradeIntent
	Price  decimal.NullDecimal
}

// CloseOrder reduces Position by Percent (1..100).
type CloseOrder struct {
	Position *Position
	Percent  int
}

// TradeResult describes a submission. On failure the fields that were
// already known (deltas, tx hash) are still filled in.
type TradeResult struct {
	Kind        TradeKind   `json:"kind"`
	Side        Side        `json:"side"`
	SizeDelta   *big.Int    `json:"sizeDelta"`
	MarginDelta *big.Int    `json:"marginDelta,omitempty"`
	Percent     int         `json:"percent,omitempty"`
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	// Position is re-read after the receipt. nil when fully closed or when
	// the read failed.
	Position *Position `json:"-"`
}

// DefaultReceiptTimeout bounds the wait for a sent transaction's receipt.
const DefaultReceiptTimeout = 3 * time.Minute

// Submitter sends open/close transactions. Preconditions are checked here
// even when the caller already checked them, and at most one submission is
// in flight at a time.
type Submitter struct {
	contract Contract
	wallet   Wallet
	inFlight atomic.Bool
	logger   *zap.SugaredLogger

	receiptTimeout time.Duration
}

// NewSubmitter returns a submitter. wallet may be nil (watch-only); every
// submission then fails with ErrNotConnected.
func NewSubmitter(contract Contract, wallet Wallet, logger *zap.SugaredLogger) *Submitter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Submitter{contract: contract, wallet: wallet, logger: logger, receiptTimeout: DefaultReceiptTimeout}
}

// SetReceiptTimeout changes how long a submission waits for its receipt.
// Non-positive values keep the current timeout. Call before submitting.
func (s *Submitter) SetReceiptTimeout(d time.Duration) {
	if d > 0 {
		s.receiptTimeout = d
	}
}

// Connected reports whether a signing wallet is attached.
func (s *Submitter) Connected() bool { return s.wallet != nil }

// Account returns the wallet address, or the zero address when watch-only.
func (s *Submitter) Account() common.Address {
	if s.wallet == nil {
		return common.Address{}
	}
	return s.wallet.Address()
}

// InFlight reports whether a submission is currently running.
func (s *Submitter) InFlight() bool { return s.inFlight.Load() }

// Open validates the order, sends openPosition and waits for the receipt.
func (s *Submitter) Open(ctx context.Context, order OpenOrder) (*TradeResult, error) {
	if s.wallet == nil {
		return nil, ErrNotConnected
	}
	if order.Side != Long && order.Side != Short {
		return nil, ErrInvalidSide
	}
	quote, err := order.Intent.Quote(order.Price)
	if err != nil {
		return nil, err
	}
	sizeDelta, marginDelta, err := quote.Deltas()
	if err != nil {
		return nil, err
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	res := &TradeResult{
		Kind:        KindOpen,
		Side:        order.Side,
		SizeDelta:   sizeDelta,
		MarginDelta: marginDelta,
	}
	s.logger.Infow("open_submitting",
		"side", order.Side.String(),
		"size_delta", sizeDelta.String(),
		"margin_delta", marginDelta.String(),
		"notional", quote.Notional.String())

	opts, err := s.wallet.Transactor(ctx)
	if err != nil {
		return res, ClassifyTxError(err)
	}
	tx, err := s.contract.OpenPosition(opts, order.Side == Long, sizeDelta, marginDelta)
	if err != nil {
		return res, ClassifyTxError(err)
	}
	return s.confirm(ctx, res, tx)
}

// Close sends closePosition for floor(|size| * percent / 100).
func (s *Submitter) Close(ctx context.Context, order CloseOrder) (*TradeResult, error) {
	if s.wallet == nil {
		return nil, ErrNotConnected
	}
	closeSize, err := CloseSize(order.Position, order.Percent)
	if err != nil {
		return nil, err
	}
	if closeSize.Sign() == 0 {
		return nil, ErrSizeTooSmall
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	res := &TradeResult{
		Kind:      KindClose,
		Side:      order.Position.Side(),
		SizeDelta: closeSize,
		Percent:   order.Percent,
	}
	s.logger.Infow("close_submitting",
		"percent", order.Percent,
		"close_size", closeSize.String())

	opts, err := s.wallet.Transactor(ctx)
	if err != nil {
		return res, ClassifyTxError(err)
	}
	tx, err := s.contract.ClosePosition(opts, closeSize)
	if err != nil {
		return res, ClassifyTxError(err)
	}
	return s.confirm(ctx, res, tx)
}

// confirm waits for the receipt and only then re-reads the position, so
// the refreshed position is never older than the transaction.
func (s *Submitter) confirm(ctx context.Context, res *TradeResult, tx *types.Transaction) (*TradeResult, error) {
	res.TxHash = tx.Hash()
	s.logger.Infow("tx_sent", "kind", string(res.Kind), "tx", res.TxHash.Hex())

	waitCtx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	receipt, err := s.contract.WaitMined(waitCtx, tx)
	cancel()
	if err != nil {
		txErr := ClassifyTxError(err)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// dropped or replaced; the outcome is unknown until the next read
			txErr.Kind = FailureUnknown
			txErr.Reason = fmt.Sprintf("no receipt within %s", s.receiptTimeout)
			s.logger.Warnw("receipt_timeout", "kind", string(res.Kind), "tx", res.TxHash.Hex(), "timeout", s.receiptTimeout.String())
		}
		txErr.TxHash = res.TxHash
		return res, txErr
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusFailed {
		txErr := ClassifyTxError(errReceiptFailed)
		txErr.TxHash = res.TxHash
		return res, txErr
	}

	pos, err := s.contract.ReadPosition(ctx, s.wallet.Address())
	if err != nil {
		s.logger.Warnw("position_refresh_failed", "tx", res.TxHash.Hex(), "err", err)
		pos = nil
	}
	res.Position = pos
	s.logger.Infow("tx_confirmed", "kind", string(res.Kind), "tx", res.TxHash.Hex(), "block", res.BlockNumber)
	return res, nil
}
