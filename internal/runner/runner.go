// Package runner provides the command lifecycle shared by cmd/authclient:
// signal handling, config loading, observability init, token store wiring,
// and telemetry flush on exit.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aelexs/authclient/internal/client"
	"github.com/aelexs/authclient/internal/config"
	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/observability"
	redisclient "github.com/aelexs/authclient/internal/redis"
	"github.com/aelexs/authclient/internal/tokenstore"
)

// Version is reported as service.version on telemetry.
const Version = "0.1.0"

// Env is what a command receives once the lifecycle is set up.
type Env struct {
	Config *config.Config
	Client *client.Client
	Store  *tokenstore.Store
	Logger *slog.Logger
	Stdout io.Writer
}

// Command is the body of one CLI invocation.
type Command func(ctx context.Context, env *Env) error

// Params configures a run.
type Params struct {
	// Name identifies the program in logs and telemetry.
	Name string

	// Config overrides config.Load. Used by tests.
	Config *config.Config

	// HTTPClient overrides the default HTTP client. Used by tests.
	HTTPClient *http.Client

	// Stdout receives command output. Nil means os.Stdout.
	Stdout io.Writer

	// LogWriter receives log output. Nil means os.Stderr.
	LogWriter io.Writer
}

// Run executes the full command lifecycle around cmd and returns cmd's error.
// SIGINT and SIGTERM cancel the context passed to cmd.
func Run(ctx context.Context, p Params, cmd Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg := p.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(ctx)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: p.Name,
		Environment: cfg.Environment,
		Writer:      p.LogWriter,
	})

	// --- Startup order: tracer -> metrics -> token store -> client ---

	tracerProvider, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	metricsProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	// Flush OTEL last (reverse of startup: metrics first, then tracer).
	defer func() {
		otelCtx, otelCancel := context.WithTimeout(context.WithoutCancel(ctx), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := metricsProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown metrics", slog.String("error", shutdownErr.Error()))
		}
		if shutdownErr := tracerProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", shutdownErr.Error()))
		}
	}()

	backend, closeBackend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open token backend: %w", err)
	}
	defer func() {
		if closeErr := closeBackend(); closeErr != nil {
			logger.Warn("failed to close token backend", slog.String("error", closeErr.Error()))
		}
	}()

	store := tokenstore.Open(ctx, backend, logger)

	c, err := client.New(client.Config{
		BaseURL:          cfg.API.BaseURL,
		Store:            store,
		HTTPClient:       p.HTTPClient,
		Timeout:          cfg.API.Timeout,
		RefreshTimeout:   cfg.API.RefreshTimeout,
		MaxResponseBytes: cfg.API.MaxResponseBytes,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	stdout := p.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	env := &Env{Config: cfg, Client: c, Store: store, Logger: logger, Stdout: stdout}

	// --- Structured concurrency via errgroup ---
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	// Goroutine 1: the command itself.
	g.Go(func() error {
		defer close(done)
		return cmd(gctx, env)
	})

	// Goroutine 2: interrupt watcher. The command sees the cancellation
	// through gctx; this only reports it.
	g.Go(func() error {
		select {
		case <-done:
		case <-ctx.Done():
			logger.Info("received interrupt, cancelling command")
		}
		return nil
	})

	return g.Wait()
}

// OpenBackend builds the token backend selected by cfg.Tokens.Backend.
// The returned close func releases any connection the backend holds.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tokenstore.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Tokens.Backend {
	case config.BackendMemory:
		return tokenstore.NewMemoryBackend(), noop, nil

	case config.BackendFile:
		logger.Debug("using file token backend", slog.String("path", cfg.Tokens.File))
		return tokenstore.NewFileBackend(cfg.Tokens.File), noop, nil

	case config.BackendRedis:
		rc := redisclient.NewClient(redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		// Unreachable Redis is not fatal: the store runs memory-only and
		// logs each failed write.
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis token backend unreachable", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
		}
		return tokenstore.NewRedisBackend(rc.RDB, cfg.Tokens.KeyPrefix), rc.Close, nil
	}

	return nil, nil, fmt.Errorf("%w: tokens.backend %q", domain.ErrInvalidConfig, cfg.Tokens.Backend)
}
