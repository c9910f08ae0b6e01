// Package feeds keeps the latest oracle prices, pool states and order stats
// pushed over the channel.
package feeds

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/noteswap/pkg/channel"
)

// PriceSource answers with the last known price of an oracle feed.
type PriceSource interface {
	CurrentPrice(oracleID string) (decimal.Decimal, bool)
}

type Price struct {
	OracleID  string          `json:"oracle_id"`
	FaucetID  string          `json:"faucet_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

type PoolState struct {
	FaucetID  string               `json:"faucet_id"`
	Balances  channel.PoolBalances `json:"balances"`
	Timestamp int64                `json:"timestamp"`
}

type Stats struct {
	OpenOrders   uint64 `json:"open_orders"`
	ClosedOrders uint64 `json:"closed_orders"`
	Timestamp    int64  `json:"timestamp"`
}

// Feeds is a channel listener. Older events never overwrite newer ones.
type Feeds struct {
	mu     sync.RWMutex
	prices map[string]Price
	pools  map[string]PoolState
	stats  Stats
}

func New() *Feeds {
	return &Feeds{
		prices: make(map[string]Price),
		pools:  make(map[string]PoolState),
	}
}

// HandleMessage is meant for channel.OrderChannel.AddListener.
func (f *Feeds) HandleMessage(msg channel.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := msg.(type) {
	case *channel.OraclePriceUpdate:
		if cur, ok := f.prices[m.OracleID]; ok && cur.Timestamp > m.Timestamp {
			return
		}
		f.prices[m.OracleID] = Price{OracleID: m.OracleID, FaucetID: m.FaucetID, Price: m.Price, Timestamp: m.Timestamp}
	case *channel.PoolStateUpdate:
		if cur, ok := f.pools[m.FaucetID]; ok && cur.Timestamp > m.Timestamp {
			return
		}
		f.pools[m.FaucetID] = PoolState{FaucetID: m.FaucetID, Balances: m.Balances, Timestamp: m.Timestamp}
	case *channel.StatsUpdate:
		if f.stats.Timestamp > m.Timestamp {
			return
		}
		f.stats = Stats{OpenOrders: m.OpenOrders, ClosedOrders: m.ClosedOrders, Timestamp: m.Timestamp}
	}
}

func (f *Feeds) CurrentPrice(oracleID string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[oracleID]
	return p.Price, ok
}

func (f *Feeds) Price(oracleID string) (Price, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[oracleID]
	return p, ok
}

func (f *Feeds) PoolState(faucetID string) (PoolState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pools[faucetID]
	return p, ok
}

func (f *Feeds) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

// Subscriptions lists the channel subscriptions that feed f for the given
// oracles and pools, plus the aggregate stats.
func Subscriptions(oracleIDs, faucetIDs []string) []channel.Subscription {
	subs := make([]channel.Subscription, 0, len(oracleIDs)+len(faucetIDs)+1)
	for _, id := range oracleIDs {
		subs = append(subs, channel.OraclePrices(id))
	}
	for _, id := range faucetIDs {
		subs = append(subs, channel.PoolState(id))
	}
	return append(subs, channel.Stats())
}

var _ PriceSource = (*Feeds)(nil)
