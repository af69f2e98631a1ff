// Package wallet provides the signing account the terminal trades with.
//
// Three backends are supported:
//   - a raw secp256k1 private key (development, scripted use)
//   - an encrypted go-ethereum keystore directory
//   - an external Clef signer, where each transaction is confirmed by the user
//
// None of them persist credentials; keys stay where the backend keeps them.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet exposes the connected address and a per-call transaction signer.
type Wallet interface {
	Address() common.Address
	Transactor(ctx context.Context) (*bind.TransactOpts, error)
}

var ErrNoChainID = errors.New("wallet: chain id required")

// KeyWallet signs with an in-memory secp256k1 key.
type KeyWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// GenerateKey creates a new random key pair. Intended for tests and devnets.
func GenerateKey(chainID *big.Int) (*KeyWallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newKeyWallet(privateKey, chainID)
}

// FromPrivateKeyHex creates a KeyWallet from a hex-encoded private key
// Format: "0x1234..." or "1234..." (64 hex chars)
func FromPrivateKeyHex(hexKey string, chainID *big.Int) (*KeyWallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newKeyWallet(privateKey, chainID)
}

func newKeyWallet(privateKey *ecdsa.PrivateKey, chainID *big.Int) (*KeyWallet, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, ErrNoChainID
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &KeyWallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    new(big.Int).Set(chainID),
	}, nil
}

func (w *KeyWallet) Address() common.Address { return w.address }

// PrivateKeyHex returns the private key as hex string (WITHOUT 0x prefix)
// WARNING: Keep this secret! Never expose to users or logs
func (w *KeyWallet) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(w.privateKey))
}

// Transactor returns EIP-155 signing options bound to ctx.
func (w *KeyWallet) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.privateKey, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("keyed transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Options selects and configures a backend. Exactly one of PrivateKey,
// KeystoreDir or ClefURL may be set. None set yields a nil Wallet
// (watch-only).
type Options struct {
	PrivateKey  string
	KeystoreDir string
	ClefURL     string
	Address     string
	Password    string
	ChainID     *big.Int
}

var ErrAmbiguousBackend = errors.New("wallet: more than one signer backend configured")

// Open builds the wallet described by opts.
func Open(opts Options) (Wallet, error) {
	set := 0
	for _, v := range []string{opts.PrivateKey, opts.KeystoreDir, opts.ClefURL} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return nil, ErrAmbiguousBackend
	}

	switch {
	case opts.PrivateKey != "":
		w, err := FromPrivateKeyHex(opts.PrivateKey, opts.ChainID)
		if err != nil {
			return nil, err
		}
		return w, nil
	case opts.KeystoreDir != "":
		addr, err := ParseAddress(opts.Address)
		if err != nil {
			return nil, fmt.Errorf("keystore account: %w", err)
		}
		w, err := OpenKeystore(opts.KeystoreDir, addr, opts.Password, opts.ChainID)
		if err != nil {
			return nil, err
		}
		return w, nil
	case opts.ClefURL != "":
		var addr common.Address
		if opts.Address != "" {
			a, err := ParseAddress(opts.Address)
			if err != nil {
				return nil, fmt.Errorf("clef account: %w", err)
			}
			addr = a
		}
		w, err := OpenClef(opts.ClefURL, addr)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, nil
	}
}
