package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"openbounty/core"
	"openbounty/gateway/idempotency"
	"openbounty/gateway/middleware"
	"openbounty/observability"
	"openbounty/storage/eventlog"
)

const (
	routeRPC       = "rpc"
	metricsModule  = "bounty"
	faucetScope    = "faucet"
	shutdownWindow = 10 * time.Second
)

// EventSource serves the committed event history.
type EventSource interface {
	List(ctx context.Context, filter eventlog.Filter) ([]eventlog.StoredEvent, error)
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	ServiceName       string
	AllowedOrigins    []string
	RateLimit         middleware.RateLimit
	TrustProxyHeaders bool
	Auth              middleware.AuthConfig
	Observability     bool
	LogRequests       bool
	// Tracing wraps the router in an OpenTelemetry HTTP handler.
	Tracing bool
	// Idempotency, when set, replays responses for repeated Idempotency-Key
	// headers on the RPC endpoint.
	Idempotency *idempotency.Store
}

type Server struct {
	ledger    *core.Ledger
	processor *core.Processor
	events    EventSource
	logger    *slog.Logger
	auth      *middleware.Authenticator
	router    chi.Router
	handler   http.Handler
}

// NewServer wires the JSON-RPC surface over the ledger. events may be nil, in
// which case bounty_listEvents reports the journal as unavailable.
func NewServer(ledger *core.Ledger, events EventSource, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bountyd"
	}
	s := &Server{
		ledger:    ledger,
		processor: core.NewProcessor(ledger),
		events:    events,
		logger:    logger,
		auth:      middleware.NewAuthenticator(cfg.Auth, logger),
	}

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{routeRPC: cfg.RateLimit}, logger)
	limiter.TrustProxyHeaders = cfg.TrustProxyHeaders
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.ServiceName,
		LogRequests: cfg.LogRequests,
		Enabled:     cfg.Observability,
	}, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	rpcRoute := r.With(obs.Middleware(routeRPC), limiter.Middleware(routeRPC))
	if cfg.Idempotency != nil {
		rpcRoute = rpcRoute.With(idempotency.NewMiddleware(cfg.Idempotency, maxRequestBytes, logger).Handler)
	}
	rpcRoute.Post("/", s.handle)
	s.router = r
	s.handler = r
	if cfg.Tracing {
		s.handler = otelhttp.NewHandler(r, cfg.ServiceName)
	}
	return s
}

// Handler exposes the router, primarily for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc shutdown: %w", err)
		}
		return nil
	}
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("starting JSON-RPC server", "address", ln.Addr().String())
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	if _, err := s.ledger.Treasury(); err != nil {
		status = "treasury_uninitialized"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"bounty_sendTransaction": s.handleSendTransaction,
		"bounty_getTreasury":     s.handleGetTreasury,
		"bounty_getBounty":       s.handleGetBounty,
		"bounty_listBounties":    s.handleListBounties,
		"bounty_getProfile":      s.handleGetProfile,
		"bounty_getAccount":      s.handleGetAccount,
		"bounty_deriveAddress":   s.handleDeriveAddress,
		"bounty_listEvents":      s.handleListEvents,
		"bounty_airdrop":         s.handleAirdrop,
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	recorder := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	method := "unknown"
	defer func() {
		observability.ModuleMetrics().Observe(metricsModule, method, recorder.status, time.Since(start))
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(recorder, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(recorder, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(recorder, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	method = req.Method
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("rpc.method", method))
	handler(recorder, r, req)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
