package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

// KeystoreWallet signs with an account from an encrypted keystore directory.
// The account stays unlocked for the life of the process.
type KeystoreWallet struct {
	ks      *keystore.KeyStore
	account accounts.Account
	chainID *big.Int
}

func OpenKeystore(dir string, address common.Address, passphrase string, chainID *big.Int) (*KeystoreWallet, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, ErrNoChainID
	}
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	account, err := ks.Find(accounts.Account{Address: address})
	if err != nil {
		return nil, fmt.Errorf("keystore %s: account %s: %w", dir, address.Hex(), err)
	}
	if err := ks.Unlock(account, passphrase); err != nil {
		return nil, fmt.Errorf("keystore unlock %s: %w", address.Hex(), err)
	}
	return &KeystoreWallet{ks: ks, account: account, chainID: new(big.Int).Set(chainID)}, nil
}

func (w *KeystoreWallet) Address() common.Address { return w.account.Address }

func (w *KeystoreWallet) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyStoreTransactorWithChainID(w.ks, w.account, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("keystore transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
