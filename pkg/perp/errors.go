package perp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// FailureKind tags why a submitted transaction did not go through.
type FailureKind uint8

const (
	FailureUnknown FailureKind = iota
	FailureUserRejected
	FailureReverted
	FailureInsufficientFunds
)

func (k FailureKind) String() string {
	switch k {
	case FailureUserRejected:
		return "user_rejected"
	case FailureReverted:
		return "reverted"
	case FailureInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

func (k FailureKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *FailureKind) UnmarshalText(b []byte) error {
	for _, kind := range []FailureKind{FailureUserRejected, FailureReverted, FailureInsufficientFunds} {
		if kind.String() == string(b) {
			*k = kind
			return nil
		}
	}
	*k = FailureUnknown
	return nil
}

// TxError is the failure of a transaction that was handed to the wallet.
type TxError struct {
	Kind   FailureKind
	Reason string
	TxHash common.Hash // zero if the transaction was never broadcast
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("%s: %s (tx %s)", e.Kind, e.Reason, e.TxHash.Hex())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *TxError) Unwrap() error { return e.Err }

// errReceiptFailed marks a mined transaction whose receipt status is 0.
var errReceiptFailed = errors.New("transaction reverted on-chain")

// ClassifyTxError maps wallet, node and receipt errors onto a FailureKind.
// Revert data carried by the RPC error is decoded into a reason when it
// follows the Error(string) convention.
func ClassifyTxError(err error) *TxError {
	if err == nil {
		return nil
	}
	var txErr *TxError
	if errors.As(err, &txErr) {
		// copy: callers set TxHash on the result
		cp := *txErr
		return &cp
	}

	out := &TxError{Kind: FailureUnknown, Reason: err.Error(), Err: err}
	if errors.Is(err, errReceiptFailed) {
		out.Kind = FailureReverted
		return out
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := revertReason(dataErr.ErrorData()); ok {
			out.Kind = FailureReverted
			out.Reason = reason
			return out
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		out.Kind = FailureInsufficientFunds
	case strings.Contains(msg, "execution reverted"):
		out.Kind = FailureReverted
		if i := strings.Index(msg, "execution reverted:"); i >= 0 {
			out.Reason = strings.TrimSpace(err.Error()[i+len("execution reverted:"):])
		}
	case strings.Contains(msg, "request denied"),
		strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"),
		strings.Contains(msg, "rejected by user"):
		out.Kind = FailureUserRejected
	}
	return out
}

func revertReason(data interface{}) (string, bool) {
	s, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
