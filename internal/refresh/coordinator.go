// Package refresh exchanges a refresh token for a new token pair, with at
// most one exchange in flight no matter how many requests hit a 401 at once.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/errmap"
	"github.com/aelexs/authclient/internal/observability"
	"github.com/aelexs/authclient/internal/tokenstore"
	"github.com/aelexs/authclient/internal/transport"
)

// flightKey is the singleflight key. There is one token pair per store, so
// every refresh shares it.
const flightKey = "refresh"

var (
	tracer = otel.Tracer("authclient/refresh")

	refreshTotal       metric.Int64Counter
	refreshJoinedTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("authclient/refresh")

	refreshTotal, _ = m.Int64Counter("authclient_refresh_total",
		metric.WithDescription("Total refresh exchanges by outcome"))
	refreshJoinedTotal, _ = m.Int64Counter("authclient_refresh_joined_total",
		metric.WithDescription("Refresh callers served by another caller's exchange"))
}

// Executor sends a single request. *transport.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, spec transport.RequestSpec) (*transport.Response, error)
}

// TokenStore is the subset of *tokenstore.Store the coordinator needs.
type TokenStore interface {
	Get() (tokenstore.TokenPair, bool)
	SetIfRefresh(ctx context.Context, expected domain.SecretString, pair tokenstore.TokenPair) (bool, error)
	ClearIfRefresh(ctx context.Context, expected domain.SecretString) bool
}

// Config holds the dependencies for a Coordinator.
type Config struct {
	Executor Executor
	Store    TokenStore
	Timeout  time.Duration // Bounds the shared exchange; zero means domain.RefreshTimeout
	Logger   *slog.Logger
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	group   singleflight.Group
	exec    Executor
	store   TokenStore
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		exec:    cfg.Executor,
		store:   cfg.Store,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = domain.RefreshTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Refresh returns a fresh token pair for a caller whose request was
// rejected while carrying staleAccess ("" if it carried none).
//
// If the store already holds a different access token, another refresh
// finished after the caller's request went out and that pair is returned
// without network I/O. Otherwise the caller joins the in-flight exchange or
// starts one. The exchange runs detached from ctx so a caller that gives up
// does not fail the others; that caller gets ctx.Err() instead.
//
// Errors:
//   - domain.ErrAuthenticationExpired if the store has no refresh token, or
//     the session was logged out or replaced while the exchange ran
//   - domain.ErrRefreshFailed if the exchange failed; the store is cleared
//   - ctx.Err() if ctx ends first
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) (tokenstore.TokenPair, error) {
	pair, ok := c.store.Get()
	if !ok || pair.Refresh.IsEmpty() {
		return tokenstore.TokenPair{}, fmt.Errorf("refresh: %w", domain.ErrAuthenticationExpired)
	}
	if pair.Access.Expose() != staleAccess {
		refreshJoinedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("via", "store")))
		return pair, nil
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.exchange(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			refreshJoinedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("via", "flight")))
		}
		if res.Err != nil {
			return tokenstore.TokenPair{}, res.Err
		}
		return res.Val.(tokenstore.TokenPair), nil
	case <-ctx.Done():
		return tokenstore.TokenPair{}, fmt.Errorf("refresh: %w", ctx.Err())
	}
}

// exchange performs the network call. It runs once per flight.
func (c *Coordinator) exchange(ctx context.Context) (tokenstore.TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "refresh.refresh")
	defer span.End()

	logger := observability.WithTraceID(ctx, c.logger)

	// Re-read inside the flight: the pair may have changed while this
	// caller was deciding to refresh.
	current, ok := c.store.Get()
	if !ok || current.Refresh.IsEmpty() {
		span.SetStatus(codes.Error, "no refresh token")
		return tokenstore.TokenPair{}, fmt.Errorf("refresh: %w", domain.ErrAuthenticationExpired)
	}

	spec := transport.NewRequest(http.MethodGet, domain.RefreshPath).
		WithHeader("Authorization", "Bearer "+current.Refresh.Expose()).
		WithTimeout(c.timeout)

	resp, err := c.exec.Execute(ctx, spec)
	if err != nil {
		return c.fail(ctx, span, logger, current.Refresh, err)
	}
	if !resp.OK() {
		return c.fail(ctx, span, logger, current.Refresh, errmap.FromResponse("refresh", resp.Status, resp.Body))
	}

	pair, err := tokenstore.DecodeTokenResponse(resp.Body)
	if err != nil {
		return c.fail(ctx, span, logger, current.Refresh, err)
	}

	// A logout or login while the exchange ran owns the store now.
	stored, err := c.store.SetIfRefresh(ctx, current.Refresh, pair)
	if err != nil {
		return c.fail(ctx, span, logger, current.Refresh, err)
	}
	if !stored {
		span.SetStatus(codes.Error, "session changed during refresh")
		refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "discarded")))
		logger.Info("session changed during refresh, discarding new pair")
		return tokenstore.TokenPair{}, fmt.Errorf("refresh: %w", domain.ErrAuthenticationExpired)
	}

	refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	logger.Info("token pair refreshed")
	return pair, nil
}

// fail clears the store if it still holds the refresh token used, and wraps
// cause in domain.ErrRefreshFailed.
func (c *Coordinator) fail(ctx context.Context, span trace.Span, logger *slog.Logger, used domain.SecretString, cause error) (tokenstore.TokenPair, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))

	// The exchange deadline may already have passed; give the backend its own.
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), domain.RedisTimeout)
	defer cancel()
	c.store.ClearIfRefresh(clearCtx, used)

	logger.Warn("token refresh failed, session cleared",
		slog.Int("status", domain.StatusCode(cause)),
		slog.Any("error", cause),
	)
	return tokenstore.TokenPair{}, fmt.Errorf("%w: %w", domain.ErrRefreshFailed, cause)
}
