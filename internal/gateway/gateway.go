// Package gateway wires the knowledge query gateway's subsystems into a
// running application: config, store, cursor manager, telemetry, circuit
// breaker, executor, upsert writer, observability, health checks, and the
// HTTP surface. Gateway owns the full lifecycle: New creates and connects
// all subsystems, Run executes the HTTP listener and telemetry flusher
// concurrently, and Shutdown tears everything down in order.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kqlgateway/kqlgateway/internal/config"
	"github.com/kqlgateway/kqlgateway/internal/cursor"
	"github.com/kqlgateway/kqlgateway/internal/executor"
	"github.com/kqlgateway/kqlgateway/internal/health"
	"github.com/kqlgateway/kqlgateway/internal/httpapi"
	"github.com/kqlgateway/kqlgateway/internal/observe"
	"github.com/kqlgateway/kqlgateway/internal/resilience"
	"github.com/kqlgateway/kqlgateway/internal/store/postgres"
	"github.com/kqlgateway/kqlgateway/internal/telemetry"
	"github.com/kqlgateway/kqlgateway/internal/upsert"
	"github.com/kqlgateway/kqlgateway/pkg/embeddings"
)

// defaultEmbeddingDimensions is used when an embeddings provider is
// configured but the deployment does not override it (matches OpenAI's
// text-embedding-3-small).
const defaultEmbeddingDimensions = 1536

// Gateway owns every subsystem's lifetime.
type Gateway struct {
	cfg *config.Config

	store     *postgres.Store
	cursors   *cursor.Manager
	telemetry *telemetry.Recorder
	flusher   *telemetry.Flusher
	breaker   *resilience.CircuitBreaker
	executor  *executor.Executor
	writer    *upsert.Writer
	embedder  embeddings.Provider
	server    *http.Server

	metricsShutdown func(context.Context) error

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New, used to inject test doubles.
type Option func(*Gateway)

// WithEmbeddingsProvider injects an embeddings provider instead of building
// one from config.
func WithEmbeddingsProvider(p embeddings.Provider) Option {
	return func(g *Gateway) { g.embedder = p }
}

// New wires every subsystem in order, stopping at the first failure.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{cfg: cfg}
	for _, o := range opts {
		o(g)
	}

	// ── 1. Observability providers ───────────────────────────────────────
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      "kipgateway",
		Environment:      cfg.Server.Environment,
		TraceSampleRatio: cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: init observability: %w", err)
	}
	g.metricsShutdown = shutdown
	g.closers = append(g.closers, func() error { return g.metricsShutdown(context.Background()) })

	// ── 2. Store ──────────────────────────────────────────────────────────
	dims := 0
	if g.embedder != nil || cfg.Embed.Provider != "" {
		dims = defaultEmbeddingDimensions
	}
	dsn, err := connString(cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway: build store dsn: %w", err)
	}
	st, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return nil, fmt.Errorf("gateway: init store: %w", err)
	}
	g.store = st
	g.closers = append(g.closers, func() error { st.Close(); return nil })

	// ── 3. Embeddings provider (optional, A7) ────────────────────────────
	if g.embedder == nil && cfg.Embed.Provider != "" {
		g.embedder, err = embeddings.New(cfg.Embed.Provider, cfg.Embed.APIKey, cfg.Embed.Model)
		if err != nil {
			return nil, fmt.Errorf("gateway: init embeddings provider: %w", err)
		}
	}

	// ── 4. Cursor manager ─────────────────────────────────────────────────
	g.cursors, err = cursor.NewManager(cfg.Cursor.Key)
	if err != nil {
		return nil, fmt.Errorf("gateway: init cursor manager: %w", err)
	}

	// ── 5. Telemetry ──────────────────────────────────────────────────────
	const flushInterval = 30 * time.Second
	g.telemetry = telemetry.NewRecorder(1000, cfg.Query.SlowQueryMs, slog.Default())
	g.flusher = telemetry.NewFlusher(g.telemetry, g.store, flushInterval, slog.Default())

	// ── 6. Circuit breaker ────────────────────────────────────────────────
	g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "store",
		MaxFailures:  5,
		ResetTimeout: 10 * time.Second,
	})

	// ── 7. Core pipeline: executor + upsert writer ───────────────────────
	g.executor = executor.New(g.store, g.cursors, g.breaker)
	g.writer = upsert.New(g.store, g.breaker)

	// ── 8. Health checks ──────────────────────────────────────────────────
	healthHandler := health.New(
		health.StoreChecker(g.store.Ping),
		health.FlusherChecker(3*flushInterval, g.flusher.LastRun, g.flusher.LastError),
	)

	// ── 9. HTTP surface ───────────────────────────────────────────────────
	metrics := observe.DefaultMetrics()
	srv := httpapi.New(httpapi.Deps{
		Token:          cfg.Server.Token,
		Executor:       g.executor,
		Writer:         g.writer,
		Telemetry:      g.telemetry,
		Embedder:       g.embedder,
		Store:          g.store,
		RequestTimeout: cfg.Query.RequestTimeout,
		Health:         healthHandler,
		Metrics:        metrics,
	})
	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           observe.Middleware(metrics)(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Run blocks, serving HTTP and flushing telemetry, until ctx is cancelled or
// either subsystem returns a non-cancellation error.
func (g *Gateway) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- g.server.ListenAndServe() }()
		select {
		case <-egCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return g.server.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}
	})

	eg.Go(func() error {
		return g.flusher.Run(egCtx)
	})

	slog.Info("gateway running", "port", g.cfg.Server.Port)
	return eg.Wait()
}

// Shutdown tears down all subsystems in reverse-init order, respecting
// ctx's deadline.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var shutdownErr error
	g.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(g.closers))
		for i := len(g.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := g.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// connString merges StoreConfig's separate URI/user/password fields into a
// single DSN, overriding any credentials already embedded in URI.
func connString(cfg *config.Config) (string, error) {
	if cfg.Store.User == "" && cfg.Store.Password == "" {
		return cfg.Store.URI, nil
	}
	u, err := url.Parse(cfg.Store.URI)
	if err != nil {
		return "", err
	}
	user := cfg.Store.User
	if user == "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, cfg.Store.Password)
	return u.String(), nil
}
