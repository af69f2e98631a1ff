package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/common"
)

var ErrNoClefAccount = errors.New("wallet: clef exposes no matching account")

// ClefWallet forwards every signature request to an external Clef signer.
// Clef asks the user to approve each transaction; a refusal surfaces as a
// "Request denied" error from Transact.
type ClefWallet struct {
	signer  *external.ExternalSigner
	account accounts.Account
}

// OpenClef connects to the Clef endpoint. A zero address selects the first
// account Clef lists.
func OpenClef(endpoint string, address common.Address) (*ClefWallet, error) {
	signer, err := external.NewExternalSigner(endpoint)
	if err != nil {
		return nil, fmt.Errorf("clef %s: %w", endpoint, err)
	}
	for _, acc := range signer.Accounts() {
		if address == (common.Address{}) || acc.Address == address {
			return &ClefWallet{signer: signer, account: acc}, nil
		}
	}
	return nil, ErrNoClefAccount
}

func (w *ClefWallet) Address() common.Address { return w.account.Address }

func (w *ClefWallet) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	opts := bind.NewClefTransactor(w.signer, w.account)
	opts.Context = ctx
	return opts, nil
}
