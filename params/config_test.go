package params

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("API_ENDPOINT", "http://localhost:9000")
	t.Setenv("SYNC_WINDOW_MS", "250")
	t.Setenv("RECONNECT_MAX_MS", "5000")
	t.Setenv("DEFAULT_SLIPPAGE", "1.25")

	cfg := LoadFromEnv("does-not-exist.env")

	assert.Equal(t, "http://localhost:9000", cfg.API.Endpoint)
	assert.Equal(t, "ws://localhost:9000", cfg.API.WSEndpoint)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Window)
	assert.Equal(t, 5*time.Second, cfg.Channel.ReconnectMax)
	assert.Equal(t, 1.25, cfg.Notes.DefaultSlippage)
}

func TestLoadFromEnv_ExplicitWSEndpointWins(t *testing.T) {
	t.Setenv("API_ENDPOINT", "https://api.example.org")
	t.Setenv("WS_ENDPOINT", "wss://push.example.org")

	cfg := LoadFromEnv("does-not-exist.env")
	assert.Equal(t, "wss://push.example.org", cfg.API.WSEndpoint)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"slippage above 100": func(c *Config) { c.Notes.DefaultSlippage = 101 },
		"negative slippage":  func(c *Config) { c.Notes.DefaultSlippage = -1 },
		"bad rpc url":        func(c *Config) { c.Network.RPCEndpoint = "not a url" },
		"unknown network":    func(c *Config) { c.Network.NetworkID = "devnet" },
		"unknown ledger":     func(c *Config) { c.Network.LedgerMode = "wasm" },
		"inverted backoff":   func(c *Config) { c.Channel.ReconnectMax = 10 * time.Millisecond },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
