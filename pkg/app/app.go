// Package app assembles the terminal from configuration: chain client,
// wallet, contract binding, price feed, history store and session.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/uhyunpark/goldperp/params"
	"github.com/uhyunpark/goldperp/pkg/metrics"
	"github.com/uhyunpark/goldperp/pkg/perp"
	"github.com/uhyunpark/goldperp/pkg/pricefeed"
	"github.com/uhyunpark/goldperp/pkg/storage"
	"github.com/uhyunpark/goldperp/pkg/terminal"
	"github.com/uhyunpark/goldperp/pkg/wallet"
)

// ErrWrongNetwork means the RPC endpoint serves a different chain than the
// one configured.
var ErrWrongNetwork = errors.New("wrong network")

type Options struct {
	// WithStore opens the history store under Server.DataDir. Without it
	// price samples and trades are not recorded.
	WithStore   bool
	WithMetrics bool
}

type App struct {
	Client    *ethclient.Client
	ChainID   *big.Int
	Wallet    wallet.Wallet // nil when watch-only
	Market    *perp.Market
	Submitter *perp.Submitter
	Feed      *pricefeed.Client
	Store     storage.Store
	Metrics   *metrics.Metrics
	Session   *terminal.Session
}

// Build connects to the chain and wires every component. The caller owns
// the returned App and must Close it.
func Build(ctx context.Context, cfg params.Config, opts Options, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	perpAddr, err := wallet.ParseAddress(cfg.Chain.PerpAddress)
	if err != nil {
		return nil, fmt.Errorf("PERP_ADDRESS: %w", err)
	}
	var watch common.Address
	if cfg.Wallet.WatchAddress != "" {
		if watch, err = wallet.ParseAddress(cfg.Wallet.WatchAddress); err != nil {
			return nil, fmt.Errorf("WATCH_ADDRESS: %w", err)
		}
	}

	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Chain.RPCURL, err)
	}
	a := &App{Client: client}

	if a.ChainID, err = client.ChainID(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	if cfg.Chain.ChainID > 0 && a.ChainID.Cmp(big.NewInt(cfg.Chain.ChainID)) != 0 {
		a.Close()
		return nil, fmt.Errorf("%w: %s serves chain %s, configured %d",
			ErrWrongNetwork, cfg.Chain.RPCURL, a.ChainID, cfg.Chain.ChainID)
	}

	a.Wallet, err = wallet.Open(wallet.Options{
		PrivateKey:  cfg.Wallet.PrivateKey,
		KeystoreDir: cfg.Wallet.KeystoreDir,
		ClefURL:     cfg.Wallet.ClefURL,
		Address:     cfg.Wallet.Address,
		Password:    cfg.Wallet.Password,
		ChainID:     a.ChainID,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("wallet: %w", err)
	}

	if a.Market, err = perp.NewMarket(perpAddr, client); err != nil {
		a.Close()
		return nil, err
	}

	var signer perp.Wallet
	if a.Wallet != nil {
		signer = a.Wallet
	}
	a.Submitter = perp.NewSubmitter(a.Market, signer, logger.Named("submitter"))
	a.Submitter.SetReceiptTimeout(cfg.Chain.ReceiptTimeout)

	a.Feed, err = pricefeed.NewClient(pricefeed.Config{
		URL:      cfg.PriceFeed.URL,
		AssetID:  cfg.PriceFeed.AssetID,
		Currency: cfg.PriceFeed.Currency,
		Timeout:  cfg.PriceFeed.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if opts.WithStore {
		if cfg.Server.DataDir == "" {
			a.Store = storage.NewMemoryStore()
		} else {
			path := filepath.Join(cfg.Server.DataDir, "history")
			ps, err := storage.NewPebbleStore(path, logger.Named("store"))
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("open history store %s: %w", path, err)
			}
			a.Store = ps
		}
	}
	if opts.WithMetrics {
		a.Metrics = metrics.New()
	}

	a.Session = terminal.New(terminal.Deps{
		Feed:         a.Feed,
		Reader:       a.Market,
		Trader:       a.Submitter,
		Store:        a.Store,
		Metrics:      a.Metrics,
		Logger:       logger.Named("session"),
		PollInterval: cfg.PriceFeed.PollInterval,
		WatchAddress: watch,
	})

	mode := "watch_only"
	if a.Wallet != nil {
		mode = "signer"
	}
	logger.Infow("app_ready",
		"rpc", cfg.Chain.RPCURL,
		"chain_id", a.ChainID.String(),
		"perp", perpAddr.Hex(),
		"wallet_mode", mode,
		"account", a.Session.Snapshot().Account.Hex())
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Client != nil {
		a.Client.Close()
	}
	return errors.Join(errs...)
}
