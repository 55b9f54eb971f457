// Package client is the authenticated API client. It attaches the stored
// access token to every request and, when the server answers 401, refreshes
// the token pair once through the shared coordinator and retries the
// request exactly once.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/errmap"
	"github.com/aelexs/authclient/internal/observability"
	"github.com/aelexs/authclient/internal/refresh"
	"github.com/aelexs/authclient/internal/tokenstore"
	"github.com/aelexs/authclient/internal/transport"
)

var (
	tracer = otel.Tracer("authclient/client")

	retriesTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("authclient/client")

	retriesTotal, _ = m.Int64Counter("authclient_retries_total",
		metric.WithDescription("Requests retried after a token refresh"))
}

// Config holds the dependencies for a Client.
type Config struct {
	BaseURL          string
	Store            *tokenstore.Store // Nil means an in-memory store
	HTTPClient       *http.Client
	Timeout          time.Duration // Per-request default
	RefreshTimeout   time.Duration
	MaxResponseBytes int64
	Logger           *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	store  *tokenstore.Store
	exec   *transport.Executor
	coord  *refresh.Coordinator
	logger *slog.Logger
}

// New wires a Client from cfg.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = tokenstore.NewMemory()
	}

	exec, err := transport.New(transport.Config{
		BaseURL:          cfg.BaseURL,
		Tokens:           store,
		HTTPClient:       cfg.HTTPClient,
		Timeout:          cfg.Timeout,
		MaxResponseBytes: cfg.MaxResponseBytes,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	return &Client{
		store: store,
		exec:  exec,
		coord: refresh.New(refresh.Config{
			Executor: exec,
			Store:    store,
			Timeout:  cfg.RefreshTimeout,
			Logger:   logger,
		}),
		logger: logger,
	}, nil
}

// Request sends spec and returns the JSON body of a 2xx response. An empty
// 2xx body yields JSON null.
//
// A 401 triggers one token refresh and one retry. Errors:
//   - domain.ErrAuthenticationExpired on a 401 with no refresh token, or
//     when the refresh fails (then also domain.ErrRefreshFailed); the
//     session is cleared
//   - *domain.RequestError (domain.ErrRequestFailed) for any other non-2xx,
//     including a 401 on the retry
//   - domain.ErrMalformedResponse when a 2xx body is not JSON
//   - domain.ErrTimeout, domain.ErrNetworkUnreachable, or ctx.Err() from
//     the transport
func (c *Client) Request(ctx context.Context, spec transport.RequestSpec) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "client.request")
	defer span.End()

	resp, err := c.send(ctx, spec)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	body, err := decodeJSON(operation(spec), resp.Body)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return body, nil
}

// Do is Request followed by json.Unmarshal into out. A nil out discards
// the body.
func (c *Client) Do(ctx context.Context, spec transport.RequestSpec, out any) error {
	body, err := c.Request(ctx, spec)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %w", operation(spec), domain.ErrMalformedResponse, err)
	}
	return nil
}

// send executes spec and runs the 401 refresh-and-retry path. It returns
// only 2xx responses.
func (c *Client) send(ctx context.Context, spec transport.RequestSpec) (*transport.Response, error) {
	op := operation(spec)
	logger := observability.WithTraceID(ctx, c.logger)

	// Pin the token this attempt carries so the coordinator can tell a
	// stale 401 from a current one.
	_, callerAuth := spec.Header("Authorization")
	sent := c.store.AccessToken()
	first := spec
	if !callerAuth && sent != "" {
		first = spec.WithHeader("Authorization", bearer(sent))
	}

	resp, err := c.exec.Execute(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != http.StatusUnauthorized || callerAuth {
		return interpret(op, resp)
	}

	if c.store.RefreshToken() == "" {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrAuthenticationExpired)
	}

	logger.Debug("access token rejected, refreshing", slog.String("op", op))
	pair, err := c.coord.Refresh(ctx, sent)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrAuthenticationExpired):
		return nil, fmt.Errorf("%s: %w", op, err)
	default:
		return nil, fmt.Errorf("%s: %w: %w", op, domain.ErrAuthenticationExpired, err)
	}

	retriesTotal.Add(ctx, 1)
	resp, err = c.exec.Execute(ctx, spec.WithHeader("Authorization", bearer(pair.Access.Expose())))
	if err != nil {
		return nil, fmt.Errorf("%s: retry: %w", op, err)
	}
	// A second 401 falls through to a plain RequestError; there is no
	// second refresh.
	return interpret(op, resp)
}

func interpret(op string, resp *transport.Response) (*transport.Response, error) {
	if resp.OK() {
		return resp, nil
	}
	return nil, errmap.FromResponse(op, resp.Status, resp.Body)
}

func decodeJSON(op string, body []byte) (json.RawMessage, error) {
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: %w: body is not JSON", op, domain.ErrMalformedResponse)
	}
	return json.RawMessage(body), nil
}

func operation(spec transport.RequestSpec) string {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + spec.Path
}

func bearer(token string) string {
	return "Bearer " + token
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if status := domain.StatusCode(err); status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
}
