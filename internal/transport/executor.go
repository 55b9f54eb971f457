// Package transport executes single HTTP requests against the upstream API.
// It injects the bearer token, request ID, and trace context, enforces a
// per-request deadline, and reads the response body in full. It never
// retries and never interprets status codes.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/observability"
)

const (
	contentTypeJSON = "application/json"

	// RequestIDHeader carries a per-attempt UUID for server-side correlation.
	RequestIDHeader = "X-Request-ID"
)

var (
	tracer = otel.Tracer("authclient/transport")

	requestsTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("authclient/transport")

	requestsTotal, _ = m.Int64Counter("authclient_requests_total",
		metric.WithDescription("Total upstream requests by status class"))
}

// TokenSource supplies the access token attached to each request.
// *tokenstore.Store satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Config holds the dependencies for an Executor.
type Config struct {
	BaseURL          string
	Tokens           TokenSource   // Nil sends no Authorization header
	HTTPClient       *http.Client  // Nil uses a client on http.DefaultTransport
	Timeout          time.Duration // Default per-request deadline
	MaxResponseBytes int64
	Logger           *slog.Logger
}

// Executor performs one HTTP round trip per Execute call.
type Executor struct {
	base     *url.URL
	tokens   TokenSource
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

// New validates cfg and returns an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL", domain.ErrConfigRequired)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q", domain.ErrInvalidConfig, cfg.BaseURL)
	}

	e := &Executor{
		base:     base,
		tokens:   cfg.Tokens,
		client:   cfg.HTTPClient,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxResponseBytes,
		logger:   cfg.Logger,
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.timeout <= 0 {
		e.timeout = domain.DefaultRequestTimeout
	}
	if e.maxBytes <= 0 {
		e.maxBytes = domain.MaxResponseBytes
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// BaseURL returns the URL that relative paths are resolved against.
func (e *Executor) BaseURL() string {
	return e.base.String()
}

// Execute sends spec and returns the fully read response.
//
// Errors:
//   - domain.ErrTimeout when the request deadline passes
//   - the caller's context error when ctx is canceled
//   - domain.ErrNetworkUnreachable for any other transport failure
//   - domain.ErrMalformedResponse when the body exceeds the size limit
func (e *Executor) Execute(ctx context.Context, spec RequestSpec) (*Response, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := tracer.Start(ctx, "transport.execute", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target, err := e.resolve(spec)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLPath(target.Path),
	)

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target.String(), body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build %s %s: %w", method, spec.Path, err)
	}

	requestID := e.setHeaders(reqCtx, req, spec)
	span.SetAttributes(attribute.String("http.request_id", requestID))

	logger := observability.WithTraceID(ctx, e.logger).With(
		slog.String("method", method),
		slog.String("path", target.Path),
		slog.String("request_id", requestID),
	)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		err = classify(ctx, reqCtx, err)
		recordFailure(ctx, span, err)
		logger.Debug("request failed", slog.Duration("elapsed", time.Since(start)), slog.Any("error", err))
		return nil, fmt.Errorf("%s %s: %w", method, spec.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		err = classify(ctx, reqCtx, err)
		recordFailure(ctx, span, err)
		return nil, fmt.Errorf("%s %s: read body: %w", method, spec.Path, err)
	}
	if int64(len(data)) > e.maxBytes {
		err = fmt.Errorf("%w: body exceeds %d bytes", domain.ErrMalformedResponse, e.maxBytes)
		recordFailure(ctx, span, err)
		return nil, fmt.Errorf("%s %s: %w", method, spec.Path, err)
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status_class", statusClass(resp.StatusCode))))
	logger.Debug("request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("bytes", len(data)),
	)

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (e *Executor) resolve(spec RequestSpec) (*url.URL, error) {
	var target *url.URL
	if strings.HasPrefix(spec.Path, "http://") || strings.HasPrefix(spec.Path, "https://") {
		u, err := url.Parse(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("parse URL %q: %w", spec.Path, err)
		}
		target = u
	} else {
		rel, err := url.Parse(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("parse path %q: %w", spec.Path, err)
		}
		u := *e.base
		u.Path = e.base.Path + "/" + strings.TrimLeft(rel.Path, "/")
		u.RawQuery = rel.RawQuery
		target = &u
	}

	if len(spec.Query) > 0 {
		q := target.Query()
		for k, vs := range spec.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target, nil
}

// setHeaders applies the request headers then fills in defaults left unset.
func (e *Executor) setHeaders(ctx context.Context, req *http.Request, spec RequestSpec) string {
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", contentTypeJSON)
	}
	if len(spec.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if req.Header.Get("Authorization") == "" && e.tokens != nil {
		if access := e.tokens.AccessToken(); access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(RequestIDHeader, requestID)
	}

	observability.InjectHeaders(ctx, req.Header)
	return requestID
}

// classify maps a transport failure onto the domain taxonomy. callerCtx is
// the context passed to Execute; reqCtx additionally carries the request
// deadline.
func classify(callerCtx, reqCtx context.Context, err error) error {
	if errors.Is(callerCtx.Err(), context.Canceled) {
		return callerCtx.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetworkUnreachable, err)
}

func recordFailure(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status_class", "error")))
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
