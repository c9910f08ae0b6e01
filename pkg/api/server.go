// Package api serves the local REST and WebSocket surface of the pool client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/app/amm"
	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/notes"
	"github.com/uhyunpark/noteswap/pkg/orders"
	"github.com/uhyunpark/noteswap/pkg/pools"
	"github.com/uhyunpark/noteswap/pkg/pricing"
	"github.com/uhyunpark/noteswap/pkg/reconcile"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/submit"
	"github.com/uhyunpark/noteswap/pkg/util"
)

// Backend is what the server exposes. *amm.App implements it.
type Backend interface {
	SessionInfo() amm.SessionInfo
	Tokens() []ledger.Token
	Balance(ctx context.Context, token string) (amm.Balance, error)
	Reserves(ctx context.Context) ([]pools.Balance, error)
	Fees(ctx context.Context) ([]pools.Settings, error)
	Orders() []orders.Record
	Order(noteID ledger.NoteID) (orders.Record, bool)

	Swap(ctx context.Context, in amm.SwapIntent) (submit.Result, error)
	Deposit(ctx context.Context, in amm.LiquidityIntent) (submit.Result, error)
	Withdraw(ctx context.Context, in amm.LiquidityIntent) (submit.Result, error)
	Claim(ctx context.Context) (reconcile.ClaimResult, error)
	Mint(ctx context.Context, token string) (pools.MintResult, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	backend Backend
	router  *mux.Router
	hub     *Hub
	metrics http.Handler
	logger  *zap.SugaredLogger
}

// NewServer builds the router. gatherer may be nil, which disables /metrics.
func NewServer(backend Backend, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) *Server {
	logger = util.OrNop(logger).With("component", "api")
	s := &Server{
		backend: backend,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		logger:  logger,
	}
	if gatherer != nil {
		s.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.setupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Reads
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/balances/{token}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/pools/reserves", s.handleGetReserves).Methods("GET")
	api.HandleFunc("/pools/fees", s.handleGetFees).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{noteId}", s.handleGetOrder).Methods("GET")

	// Intents
	api.HandleFunc("/swap", s.handleSwap).Methods("POST")
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/claim", s.handleClaim).Methods("POST")
	api.HandleFunc("/faucet/mint", s.handleMint).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler is the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-s.hub.Done()
	s.hub.Wait()
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.backend.SessionInfo())
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.backend.Tokens()
	if tokens == nil {
		tokens = []ledger.Token{}
	}
	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.backend.Balance(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetReserves(w http.ResponseWriter, r *http.Request) {
	out, err := s.backend.Reserves(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	out, err := s.backend.Fees(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	recs := s.backend.Orders()
	if recs == nil {
		recs = []orders.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseDigest(mux.Vars(r)["noteId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_note_id", err.Error())
		return
	}
	rec, ok := s.backend.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order_not_found", id.String())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var in amm.SwapIntent
	if !decode(w, r, &in) {
		return
	}
	res, err := s.backend.Swap(r.Context(), in)
	s.respondSubmit(w, r, res, err)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var in amm.LiquidityIntent
	if !decode(w, r, &in) {
		return
	}
	res, err := s.backend.Deposit(r.Context(), in)
	s.respondSubmit(w, r, res, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var in amm.LiquidityIntent
	if !decode(w, r, &in) {
		return
	}
	res, err := s.backend.Withdraw(r.Context(), in)
	s.respondSubmit(w, r, res, err)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Claim(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.backend.Mint(r.Context(), req.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondSubmit answers 202 when only the private relay failed: the
// transaction exists and the note id is still useful to the caller.
func (s *Server) respondSubmit(w http.ResponseWriter, r *http.Request, res submit.Result, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, SubmitResponse{TxID: res.TxID, NoteID: res.NoteID})
	case errors.Is(err, submit.ErrRelayFailed) && res.TxID != "":
		s.logger.Warnw("relay_failed", "tx_id", res.TxID, "note_id", res.NoteID, "err", err)
		respondJSON(w, http.StatusAccepted, SubmitResponse{TxID: res.TxID, NoteID: res.NoteID, RelayError: err.Error()})
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorw("request_failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debugw("request_rejected", "path", r.URL.Path, "code", code, "err", err)
	}
	respondError(w, status, code, err.Error())
}

// classify maps domain errors to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, amm.ErrUnknownToken):
		return http.StatusNotFound, "unknown_token"
	case errors.Is(err, amm.ErrNoTokens), errors.Is(err, session.ErrClientUnavailable), errors.Is(err, session.ErrNoSession):
		return http.StatusServiceUnavailable, "not_ready"
	case errors.Is(err, amm.ErrNoQuote):
		return http.StatusConflict, "no_quote"
	case errors.Is(err, reconcile.ErrClaimInProgress):
		return http.StatusConflict, "claim_in_progress"
	case errors.Is(err, notes.ErrCompilation),
		errors.Is(err, pricing.ErrNegativeAmount),
		errors.Is(err, pricing.ErrAmountTooLarge),
		errors.Is(err, pricing.ErrBadSlippage):
		return http.StatusBadRequest, "invalid_intent"
	case errors.Is(err, submit.ErrSubmissionRejected):
		return http.StatusUnprocessableEntity, "submission_rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

// ==============================
// Broadcast Methods
// ==============================

// BroadcastRecord pushes a tracked order change. Meant for orders.Tracker.Watch.
func (s *Server) BroadcastRecord(rec orders.Record) {
	ev := WSEvent{Type: "order", Data: rec}
	s.hub.BroadcastToChannel(ChannelOrders, ev)
	s.hub.BroadcastToChannel(OrderChannel(rec.NoteID.String()), ev)
}

// BroadcastWaiting pushes the waiting-for-notes flag. Meant for reconcile.Reconciler.OnChange.
func (s *Server) BroadcastWaiting(waiting bool) {
	s.hub.BroadcastToChannel(ChannelSession, WSEvent{
		Type: "waiting",
		Data: map[string]any{"waiting": waiting, "session": s.backend.SessionInfo()},
	})
}

// ==============================
// Helper Functions
// ==============================

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}
