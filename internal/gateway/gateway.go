// ABOUTME: Gateway orchestrator that wires storage, registry, bridge and the HTTP server
// ABOUTME: Manages the server lifecycle, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/savedoc-gateway/internal/auth"
	"github.com/2389/savedoc-gateway/internal/config"
	"github.com/2389/savedoc-gateway/internal/metrics"
	"github.com/2389/savedoc-gateway/internal/notify"
	"github.com/2389/savedoc-gateway/internal/registry"
	"github.com/2389/savedoc-gateway/internal/store"
)

// Gateway owns every server component of savedoc-gateway
type Gateway struct {
	config     *config.Config
	backend    store.Backend
	registry   *registry.Registry
	bridge     *notify.Bridge
	router     *Router
	metrics    *metrics.Metrics
	verifier   auth.TokenVerifier
	httpServer *http.Server
	logger     *slog.Logger

	// closeBackend releases backend resources, nil for the file backend
	closeBackend func() error

	// done is closed on shutdown to end hijacked WebSocket connections
	done      chan struct{}
	closeOnce sync.Once
}

// OpenBackend builds the persisted-unit backend selected by cfg. The
// returned close func is nil when the backend holds no resources.
func OpenBackend(cfg *config.Config, logger *slog.Logger) (store.Backend, func() error, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		b, err := store.NewSQLiteBackend(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite backend: %w", err)
		}
		return b, b.Close, nil
	case config.BackendFile, "":
		return store.NewFileBackend(cfg.Storage.Dir, logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, closeBackend, err := OpenBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	reg := registry.New(backend, registry.Options{
		Logger:  logger,
		Metrics: m,
	})
	bridge := notify.NewBridge(logger, m)

	gw := &Gateway{
		config:       cfg,
		backend:      backend,
		registry:     reg,
		bridge:       bridge,
		router:       NewRouter(reg, bridge, m, logger),
		metrics:      m,
		logger:       logger.With("component", "gateway"),
		closeBackend: closeBackend,
		done:         make(chan struct{}),
	}

	// Auth required on /api if JWT secret is configured. Left as a nil
	// interface otherwise so the middleware passes through.
	if cfg.Auth.JWTSecret != "" {
		gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		gw.logger.Warn("auth.jwt_secret not set, API is unauthenticated")
	}

	root := mux.NewRouter()

	// Health endpoints - no auth required
	root.HandleFunc("/health", gw.handleHealth).Methods(http.MethodGet)
	root.HandleFunc("/health/ready", gw.handleReady).Methods(http.MethodGet)
	if m != nil {
		root.Handle(cfg.Metrics.Path, m.Handler()).Methods(http.MethodGet)
	}

	gw.registerAPIRoutes(root)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler, mainly for tests
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Router returns the request router shared by all transports
func (g *Gateway) Router() *Router {
	return g.router
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.logger.Info("starting gateway",
		"http_addr", ln.Addr().String(),
		"storage", g.config.Storage.Backend,
		"auth", g.verifier != nil,
		"metrics", g.metrics != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, ends every session and releases the backend.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	g.closeOnce.Do(func() {
		close(g.done)

		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.bridge.Close()

		if g.closeBackend != nil {
			errs = appendCloseError(errs, "backend close", g.closeBackend())
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports live stores and attached change listeners
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	conns := g.registry.Connections()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections, %d listeners, active %q)",
		len(conns), g.bridge.Count(), g.registry.Active())
}
