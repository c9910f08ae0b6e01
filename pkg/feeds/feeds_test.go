package feeds

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/noteswap/pkg/channel"
)

func decode(t *testing.T, raw string) channel.Message {
	t.Helper()
	msg, err := channel.Decode([]byte(raw))
	require.NoError(t, err)
	return msg
}

func TestPrices_KeepNewest(t *testing.T) {
	f := New()
	f.HandleMessage(decode(t, `{"type":"OraclePriceUpdate","oracle_id":"eth","faucet_id":"0x01","price":"3120.55","timestamp":20}`))
	f.HandleMessage(decode(t, `{"type":"OraclePriceUpdate","oracle_id":"eth","faucet_id":"0x01","price":"3000","timestamp":10}`))

	p, ok := f.CurrentPrice("eth")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.RequireFromString("3120.55")))

	_, ok = f.CurrentPrice("btc")
	assert.False(t, ok)
}

func TestPoolStateAndStats(t *testing.T) {
	f := New()
	f.HandleMessage(decode(t, `{"type":"PoolStateUpdate","faucet_id":"0x01","balances":{"reserve":"100","reserve_with_slippage":"90","total_liabilities":"120"},"timestamp":5}`))
	f.HandleMessage(decode(t, `{"type":"StatsUpdate","open_orders":4,"closed_orders":9,"timestamp":6}`))
	f.HandleMessage(decode(t, `{"type":"Pong"}`))

	ps, ok := f.PoolState("0x01")
	require.True(t, ok)
	assert.Equal(t, "90", ps.Balances.ReserveWithSlippage.String())
	assert.Equal(t, Stats{OpenOrders: 4, ClosedOrders: 9, Timestamp: 6}, f.Stats())
}

func TestSubscriptions(t *testing.T) {
	subs := Subscriptions([]string{"eth"}, []string{"0x01"})
	assert.Equal(t, []channel.Subscription{
		channel.OraclePrices("eth"),
		channel.PoolState("0x01"),
		channel.Stats(),
	}, subs)
}
