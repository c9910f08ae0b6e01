package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/params"
	"github.com/uhyunpark/noteswap/pkg/api"
	"github.com/uhyunpark/noteswap/pkg/app/amm"
	"github.com/uhyunpark/noteswap/pkg/channel"
	"github.com/uhyunpark/noteswap/pkg/feeds"
	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/ledger/ledgertest"
	"github.com/uhyunpark/noteswap/pkg/metrics"
	"github.com/uhyunpark/noteswap/pkg/notes"
	"github.com/uhyunpark/noteswap/pkg/orders"
	"github.com/uhyunpark/noteswap/pkg/pools"
	"github.com/uhyunpark/noteswap/pkg/reconcile"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/storage"
	"github.com/uhyunpark/noteswap/pkg/submit"
	"github.com/uhyunpark/noteswap/pkg/util"
	"github.com/uhyunpark/noteswap/pkg/wallet"
)

func main() {
	// ENV > .env > defaults
	cfg := params.LoadFromEnv("")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	network := ledger.NetworkID(cfg.Network.NetworkID)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clock := util.RealClock{}

	// ---- Local state ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	journal, err := storage.NewFileJournal(filepath.Join(cfg.Node.DataDir, "submissions.log"))
	if err != nil {
		sugar.Fatalw("journal_open_failed", "err", err)
	}
	defer journal.Close()

	var client ledger.Client
	switch cfg.Network.LedgerMode {
	case "memory":
		client = ledgertest.New()
		sugar.Warn("ledger_mode_memory - nothing leaves this process")
	default:
		client = ledger.NewRPCClient(cfg.Network.RPCEndpoint, store, sugar.With("component", "rpc"))
	}

	// ---- Operator backend ----
	poolsClient := pools.NewClient(cfg.API.Endpoint, network, sugar)
	info, err := poolsClient.Info(ctx)
	if err != nil {
		sugar.Fatalw("pools_info_failed", "endpoint", cfg.API.Endpoint, "err", err)
	}
	pool := info.PoolAccountID
	if cfg.Node.PoolAccountID != "" {
		if pool, err = ledger.ParseAccountID(cfg.Node.PoolAccountID); err != nil {
			sugar.Fatalw("bad_pool_account_id", "err", err)
		}
	}

	// ---- Wallet ----
	key, err := loadKey(cfg.Node.WalletKey, sugar)
	if err != nil {
		sugar.Fatalw("wallet_key_failed", "err", err)
	}
	if cfg.Node.AccountID == "" {
		sugar.Fatal("ACCOUNT_ID is required")
	}
	account, err := ledger.ParseAccountID(cfg.Node.AccountID)
	if err != nil {
		sugar.Fatalw("bad_account_id", "err", err)
	}

	// ---- Session ----
	throttle := session.NewThrottledSync(cfg.Sync.Window, clock, sugar, m)
	sess := session.New(nil, throttle, sugar)
	if err := sess.Start(ctx, account, pool, client); err != nil {
		sugar.Fatalw("session_start_failed", "err", err)
	}
	defer sess.End()

	// ---- Push channel ----
	ch, err := channel.New(channel.Config{
		URL:           cfg.API.WSEndpoint + "/ws",
		ReconnectBase: cfg.Channel.ReconnectBase,
		ReconnectMax:  cfg.Channel.ReconnectMax,
		PingInterval:  cfg.Channel.PingInterval,
	}, clock, sugar.With("component", "channel"), m)
	if err != nil {
		sugar.Fatalw("channel_init_failed", "err", err)
	}

	tracker := orders.NewTracker(store, clock, sugar.With("component", "orders"))
	if err := tracker.Load(account); err != nil {
		sugar.Warnw("orders_load_failed", "err", err)
	}
	prices := feeds.New()
	ch.AddListener(tracker.HandleMessage)
	tracker.ReleaseTerminal(ch)
	ch.AddListener(prices.HandleMessage)

	rec := reconcile.New(sess, cfg.Sync.ReconcileInterval, clock, sugar, m)
	sess.OnReset(rec.Reset)
	sess.OnReset(tracker.Reset)
	sess.OnReset(ch.Reset)

	// ---- Notes ----
	scripts, err := notes.LoadScripts(cfg.Notes.ScriptsDir)
	if err != nil {
		sugar.Fatalw("scripts_load_failed", "err", err)
	}
	compiler := notes.NewCompiler(sess,
		notes.WithScripts(scripts),
		notes.WithClock(clock),
		notes.WithDeadline(cfg.Notes.Deadline),
		notes.WithLogger(sugar),
	)
	if err := compiler.Warm(ctx); err != nil {
		sugar.Warnw("script_warmup_failed", "err", err)
	}

	submitter := submit.New(sess,
		submit.WithRelay(poolsClient),
		submit.WithExpecter(rec),
		submit.WithSubscriber(ch),
		submit.WithTracker(tracker),
		submit.WithJournal(journal),
		submit.WithClock(clock),
		submit.WithRelayDelay(cfg.Notes.PrivateRelayDelay),
		submit.WithLogger(sugar),
		submit.WithMetrics(m),
	)

	app := amm.New(amm.Deps{
		Session:    sess,
		Compiler:   compiler,
		Submitter:  submitter,
		Reconciler: rec,
		Tracker:    tracker,
		Prices:     prices,
		Pools:      poolsClient,
		Wallet:     wallet.NewLocal(key, sess.Handle(), sugar),
		Slippage:   decimal.NewFromFloat(cfg.Notes.DefaultSlippage),
		Logger:     sugar,
	})
	if _, err := app.LoadTokens(ctx); err != nil {
		sugar.Fatalw("tokens_load_failed", "err", err)
	}

	// Feeds for every listed pool, plus our own open orders.
	var oracles, faucets []string
	for _, t := range app.Tokens() {
		oracles = append(oracles, t.OracleID)
		faucets = append(faucets, t.Faucet.Bech32(network))
	}
	ch.Subscribe(feeds.Subscriptions(oracles, faucets)...)
	for _, r := range tracker.List() {
		if !r.Status.Terminal() {
			ch.Subscribe(channel.OrderUpdates(r.NoteID.String()))
		}
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, reg, sugar)
	ch.AddListener(apiServer.Hub().HandleMessage)
	tracker.Watch(apiServer.BroadcastRecord)
	rec.OnChange(apiServer.BroadcastWaiting)

	ch.Connect()
	defer ch.Disconnect()
	rec.Start(ctx)
	defer rec.Stop()

	sugar.Infow("noteswap_starting",
		"network", network,
		"ledger_mode", cfg.Network.LedgerMode,
		"account", account.Bech32(network),
		"pool", pool.Bech32(network),
		"signer", key.Address().Hex(),
		"tokens", len(app.Tokens()))

	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
	}
	sugar.Info("noteswap_stopped")
}

func loadKey(hex string, sugar *zap.SugaredLogger) (*wallet.Key, error) {
	if hex != "" {
		return wallet.FromPrivateKeyHex(hex)
	}
	key, err := wallet.GenerateKey()
	if err != nil {
		return nil, err
	}
	sugar.Warnw("wallet_key_generated", "address", key.Address().Hex())
	return key, nil
}
