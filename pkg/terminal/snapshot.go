package terminal

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/goldperp/pkg/perp"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
)

// TradeOutcome is the result of the last submission that reached the wallet.
type TradeOutcome struct {
	ID          string
	Kind        perp.TradeKind
	Side        perp.Side
	Percent     int
	SizeDelta   string
	MarginDelta string
	TxHash      common.Hash
	BlockNumber uint64
	Confirmed   bool
	Failure     *perp.TxError // nil when Confirmed
	FinishedAt  time.Time
}

// Snapshot is one immutable view of the session. A new value with a higher
// Version is produced for every change; a Snapshot is never mutated after it
// is published.
type Snapshot struct {
	Version uint64

	Price          decimal.NullDecimal
	PriceUpdatedAt time.Time
	PriceError     string

	Account   common.Address // zero when no account is selected
	Connected bool           // a signer is attached

	Position *perp.Position
	Decoded  *perp.DecodedPosition

	Status     Status
	Submission string // id of the running submission
	LastTrade  *TradeOutcome
}

// reducer computes the next snapshot. Returning an error leaves the state
// unchanged.
type reducer func(s Snapshot) (Snapshot, error)

func redecode(s Snapshot) Snapshot {
	s.Decoded = perp.Decode(s.Position, s.Price)
	return s
}

func priceFetched(price decimal.Decimal, at time.Time) reducer {
	return func(s Snapshot) (Snapshot, error) {
		s.Price = decimal.NewNullDecimal(price)
		s.PriceUpdatedAt = at
		s.PriceError = ""
		return redecode(s), nil
	}
}

// priceFailed keeps the previous price.
func priceFailed(err error) reducer {
	return func(s Snapshot) (Snapshot, error) {
		s.PriceError = err.Error()
		return s, nil
	}
}

// accountChanged drops the position of the previous account.
func accountChanged(account common.Address) reducer {
	return func(s Snapshot) (Snapshot, error) {
		if s.Account == account {
			return s, errUnchanged
		}
		s.Account = account
		s.Position = nil
		return redecode(s), nil
	}
}

// positionLoaded installs a position read for account. Reads that finish
// after the account changed are dropped. A nil position means none or
// unknown.
func positionLoaded(account common.Address, pos *perp.Position) reducer {
	return func(s Snapshot) (Snapshot, error) {
		if s.Account != account {
			return s, errStaleRead
		}
		if !pos.IsOpen() {
			pos = nil
		}
		s.Position = pos
		return redecode(s), nil
	}
}

func submissionStarted(id string) reducer {
	return func(s Snapshot) (Snapshot, error) {
		if s.Status != StatusIdle {
			return s, perp.ErrSubmissionInFlight
		}
		s.Status = StatusSubmitting
		s.Submission = id
		return s, nil
	}
}

// submissionAborted returns to idle without recording an outcome. Used when
// the submission failed its preconditions and nothing was sent.
func submissionAborted(id string) reducer {
	return func(s Snapshot) (Snapshot, error) {
		if s.Submission != id {
			return s, errStaleRead
		}
		s.Status = StatusIdle
		s.Submission = ""
		return s, nil
	}
}

// submissionFinished records the outcome. refreshed says whether pos is a
// post-receipt read for account.
func submissionFinished(id string, outcome *TradeOutcome, account common.Address, refreshed bool, pos *perp.Position) reducer {
	return func(s Snapshot) (Snapshot, error) {
		if s.Submission != id {
			return s, errStaleRead
		}
		s.Status = StatusIdle
		s.Submission = ""
		s.LastTrade = outcome
		if refreshed && s.Account == account {
			if !pos.IsOpen() {
				pos = nil
			}
			s.Position = pos
		}
		return redecode(s), nil
	}
}
