package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mantle Sepolia deployment of the XAUT perpetual market.
const (
	MantleSepoliaRPC     = "https://rpc.sepolia.mantle.xyz"
	MantleSepoliaChainID = 5003
	DefaultPerpAddress   = "0x9E987E4eF880Bc260f5d56586960875A9e6b5B81"
)

type Chain struct {
	RPCURL      string
	PerpAddress string

	// ChainID must match the node's eth_chainId. 0 accepts whatever chain
	// the node serves.
	ChainID int64

	// ReceiptTimeout bounds the wait for a sent transaction to be mined.
	ReceiptTimeout time.Duration
}

type PriceFeed struct {
	URL      string // CoinGecko simple/price endpoint
	AssetID  string // e.g. "tether-gold"
	Currency string // e.g. "usd"
	Timeout  time.Duration
	// PollInterval re-fetches the price periodically. Zero fetches once at
	// startup and then only on explicit refresh.
	PollInterval time.Duration
}

// Wallet selects the signing backend. At most one of PrivateKey,
// KeystoreDir or ClefURL should be set; none means watch-only.
type Wallet struct {
	PrivateKey  string
	KeystoreDir string
	ClefURL     string
	Address     string // account to use from keystore/clef
	Password    string // keystore passphrase
	// WatchAddress is the account shown when no signer is configured.
	WatchAddress string
}

type Server struct {
	APIAddr     string
	CORSOrigins []string
	LogFile     string
	LogLevel    string
	DataDir     string
}

type Config struct {
	Chain     Chain
	PriceFeed PriceFeed
	Wallet    Wallet
	Server    Server
}

func Default() Config {
	return Config{
		Chain: Chain{
			RPCURL:         MantleSepoliaRPC,
			ChainID:        MantleSepoliaChainID,
			PerpAddress:    DefaultPerpAddress,
			ReceiptTimeout: 3 * time.Minute,
		},
		PriceFeed: PriceFeed{
			URL:      "https://api.coingecko.com/api/v3/simple/price",
			AssetID:  "tether-gold",
			Currency: "usd",
			Timeout:  10 * time.Second,
		},
		Server: Server{
			APIAddr:     ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			LogFile:     "data/terminal.log",
			LogLevel:    "info",
			DataDir:     "data",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Chain.RPCURL = getEnv("RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.PerpAddress = getEnv("PERP_ADDRESS", cfg.Chain.PerpAddress)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Chain.ChainID = n
		}
	}

	if d := os.Getenv("RECEIPT_TIMEOUT"); d != "" {
		if v, err := time.ParseDuration(d); err == nil && v > 0 {
			cfg.Chain.ReceiptTimeout = v
		}
	}

	cfg.PriceFeed.URL = getEnv("PRICE_API_URL", cfg.PriceFeed.URL)
	cfg.PriceFeed.AssetID = getEnv("PRICE_ASSET_ID", cfg.PriceFeed.AssetID)
	cfg.PriceFeed.Currency = getEnv("PRICE_CURRENCY", cfg.PriceFeed.Currency)
	if ms := os.Getenv("PRICE_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			cfg.PriceFeed.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	if ms := os.Getenv("PRICE_POLL_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			cfg.PriceFeed.PollInterval = time.Duration(n) * time.Millisecond
		}
	}

	cfg.Wallet.PrivateKey = os.Getenv("WALLET_PRIVATE_KEY")
	cfg.Wallet.KeystoreDir = os.Getenv("WALLET_KEYSTORE_DIR")
	cfg.Wallet.ClefURL = os.Getenv("WALLET_CLEF_URL")
	cfg.Wallet.Address = os.Getenv("WALLET_ADDRESS")
	cfg.Wallet.Password = os.Getenv("WALLET_PASSWORD")
	cfg.Wallet.WatchAddress = os.Getenv("WATCH_ADDRESS")

	cfg.Server.APIAddr = getEnv("API_ADDR", cfg.Server.APIAddr)
	cfg.Server.LogFile = getEnv("LOG_FILE", cfg.Server.LogFile)
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Server.DataDir = getEnv("DATA_DIR", cfg.Server.DataDir)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
