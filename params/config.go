package params

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Network struct {
	// RPCEndpoint is the ledger gateway used by the rpc client.
	RPCEndpoint string
	// NetworkID selects the bech32 prefix ("testnet" or "mainnet").
	NetworkID string
	// LedgerMode is "rpc" for the gateway client or "memory" for a local in-memory ledger.
	LedgerMode string
}

type API struct {
	Endpoint   string
	WSEndpoint string
}

type Sync struct {
	// Window is the minimum interval between two ledger refreshes.
	Window time.Duration
	// ReconcileInterval drives the pending-note reconciler.
	ReconcileInterval time.Duration
}

type Channel struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	PingInterval  time.Duration
}

type Notes struct {
	// Deadline is added to the current time to form a note's deadline slot.
	Deadline time.Duration
	// PrivateRelayDelay is how long to wait before relaying a private note off-band,
	// giving the ledger time to include the creating transaction.
	PrivateRelayDelay time.Duration
	// DefaultSlippage is a percentage in [0, 100].
	DefaultSlippage float64
	ScriptsDir      string
}

type Node struct {
	DataDir       string
	LogFile       string
	APIAddr       string
	WalletKey     string
	AccountID     string
	PoolAccountID string
}

type Config struct {
	Network Network
	API     API
	Sync    Sync
	Channel Channel
	Notes   Notes
	Node    Node
}

func Default() Config {
	return Config{
		Network: Network{
			RPCEndpoint: "http://localhost:57291",
			NetworkID:   "testnet",
			LedgerMode:  "rpc",
		},
		API: API{
			Endpoint:   "https://api.zoroswap.com",
			WSEndpoint: "wss://api.zoroswap.com",
		},
		Sync: Sync{
			Window:            1500 * time.Millisecond,
			ReconcileInterval: 3 * time.Second,
		},
		Channel: Channel{
			ReconnectBase: 1 * time.Second,
			ReconnectMax:  60 * time.Second,
			PingInterval:  30 * time.Second,
		},
		Notes: Notes{
			Deadline:          120 * time.Second,
			PrivateRelayDelay: 10 * time.Second,
			DefaultSlippage:   0.5,
			ScriptsDir:        "scripts",
		},
		Node: Node{
			DataDir: "data",
			LogFile: "data/noteswap.log",
			APIAddr: ":8090",
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

	cfg.Network.RPCEndpoint = getEnv("RPC_ENDPOINT", cfg.Network.RPCEndpoint)
	cfg.Network.NetworkID = getEnv("NETWORK_ID", cfg.Network.NetworkID)
	cfg.Network.LedgerMode = getEnv("LEDGER_MODE", cfg.Network.LedgerMode)

	if api := os.Getenv("API_ENDPOINT"); api != "" {
		cfg.API.Endpoint = api
		cfg.API.WSEndpoint = wsFromHTTP(api)
	}
	cfg.API.WSEndpoint = getEnv("WS_ENDPOINT", cfg.API.WSEndpoint)

	cfg.Sync.Window = getMillis("SYNC_WINDOW_MS", cfg.Sync.Window)
	cfg.Sync.ReconcileInterval = getMillis("RECONCILE_INTERVAL_MS", cfg.Sync.ReconcileInterval)

	cfg.Channel.ReconnectBase = getMillis("RECONNECT_BASE_MS", cfg.Channel.ReconnectBase)
	cfg.Channel.ReconnectMax = getMillis("RECONNECT_MAX_MS", cfg.Channel.ReconnectMax)
	cfg.Channel.PingInterval = getMillis("PING_INTERVAL_MS", cfg.Channel.PingInterval)

	cfg.Notes.Deadline = getMillis("NOTE_DEADLINE_MS", cfg.Notes.Deadline)
	cfg.Notes.PrivateRelayDelay = getMillis("PRIVATE_RELAY_DELAY_MS", cfg.Notes.PrivateRelayDelay)
	if s := os.Getenv("DEFAULT_SLIPPAGE"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.Notes.DefaultSlippage = v
		}
	}
	cfg.Notes.ScriptsDir = getEnv("SCRIPTS_DIR", cfg.Notes.ScriptsDir)

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.WalletKey = getEnv("WALLET_KEY", cfg.Node.WalletKey)
	cfg.Node.AccountID = getEnv("ACCOUNT_ID", cfg.Node.AccountID)
	cfg.Node.PoolAccountID = getEnv("POOL_ACCOUNT_ID", cfg.Node.PoolAccountID)

	return cfg
}

// Validate checks endpoint URLs and numeric bounds.
func (c Config) Validate() error {
	if c.Notes.DefaultSlippage < 0 || c.Notes.DefaultSlippage > 100 {
		return fmt.Errorf("invalid slippage configuration: default=%v", c.Notes.DefaultSlippage)
	}
	for _, raw := range []string{c.Network.RPCEndpoint, c.API.Endpoint, c.API.WSEndpoint} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid URL in configuration: %q", raw)
		}
	}
	switch c.Network.NetworkID {
	case "testnet", "mainnet":
	default:
		return fmt.Errorf("unknown network id %q", c.Network.NetworkID)
	}
	switch c.Network.LedgerMode {
	case "rpc", "memory":
	default:
		return fmt.Errorf("unknown ledger mode %q", c.Network.LedgerMode)
	}
	if c.Channel.ReconnectBase <= 0 || c.Channel.ReconnectMax < c.Channel.ReconnectBase {
		return fmt.Errorf("invalid reconnect backoff: base=%v max=%v", c.Channel.ReconnectBase, c.Channel.ReconnectMax)
	}
	if c.Sync.Window < 0 {
		return fmt.Errorf("invalid sync window %v", c.Sync.Window)
	}
	return nil
}

// wsFromHTTP maps http(s) endpoints onto their websocket scheme.
func wsFromHTTP(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https:"):
		return "wss:" + strings.TrimPrefix(endpoint, "https:")
	case strings.HasPrefix(endpoint, "http:"):
		return "ws:" + strings.TrimPrefix(endpoint, "http:")
	}
	return endpoint
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getMillis(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
