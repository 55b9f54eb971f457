package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/goleak"

	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/observability"
	"github.com/aelexs/authclient/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticTokens string

func (s staticTokens) AccessToken() string { return string(s) }

// captured records what the test server saw.
type captured struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

func newTestServer(t *testing.T, status int, respBody string) (*httptest.Server, chan captured) {
	t.Helper()
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen <- captured{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   string(b),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func newExecutor(t *testing.T, srv *httptest.Server, tokens transport.TokenSource, timeout time.Duration) *transport.Executor {
	t.Helper()
	exec, err := transport.New(transport.Config{
		BaseURL:    srv.URL + "/api/",
		Tokens:     tokens,
		HTTPClient: srv.Client(),
		Timeout:    timeout,
		Logger:     observability.Discard(),
	})
	require.NoError(t, err)
	return exec
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr error
	}{
		{"missing", "", domain.ErrConfigRequired},
		{"not http", "ftp://example.com", domain.ErrInvalidConfig},
		{"no host", "http://", domain.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transport.New(transport.Config{BaseURL: tt.baseURL})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	exec, err := transport.New(transport.Config{BaseURL: "https://example.com/api/"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api", exec.BaseURL())
}

func TestExecute_InjectsHeaders(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{"ok":true}`)
	exec := newExecutor(t, srv, staticTokens("access-1"), time.Second)

	spec, err := transport.NewJSONRequest(http.MethodPost, "/users/login", map[string]string{"email": "a@b.c"})
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))

	got := <-seen
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/users/login", got.path)
	assert.Equal(t, "Bearer access-1", got.header.Get("Authorization"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "application/json", got.header.Get("Accept"))
	assert.Len(t, got.header.Get(transport.RequestIDHeader), 36, "request id is a UUID")
	assert.JSONEq(t, `{"email":"a@b.c"}`, got.body)
}

func TestExecute_NoTokenNoAuthorization(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	exec := newExecutor(t, srv, staticTokens(""), time.Second)

	_, err := exec.Execute(context.Background(), transport.NewRequest(http.MethodGet, "/users/1"))

	require.NoError(t, err)
	got := <-seen
	assert.Empty(t, got.header.Get("Authorization"))
	assert.Empty(t, got.header.Get("Content-Type"), "no body means no content type")
}

func TestExecute_ExplicitAuthorizationWins(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	exec := newExecutor(t, srv, staticTokens("access-1"), time.Second)

	spec := transport.NewRequest(http.MethodGet, "/users/refresh").
		WithHeader("authorization", "Bearer refresh-1")

	_, err := exec.Execute(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, "Bearer refresh-1", (<-seen).header.Get("Authorization"))
}

func TestExecute_CallerContentTypeKept(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	exec := newExecutor(t, srv, nil, time.Second)

	spec := transport.RequestSpec{
		Method:  http.MethodPost,
		Path:    "/storage/upload",
		Body:    []byte("--x--"),
		Headers: map[string]string{"Content-Type": "multipart/form-data; boundary=x"},
	}

	_, err := exec.Execute(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data; boundary=x", (<-seen).header.Get("Content-Type"))
}

func TestExecute_QueryAndAbsoluteURL(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[]`)
	exec := newExecutor(t, srv, nil, time.Second)

	spec := transport.NewRequest(http.MethodGet, "/documents?page=2").WithQuery("tag", "a b")
	_, err := exec.Execute(context.Background(), spec)
	require.NoError(t, err)
	got := <-seen
	assert.Equal(t, "/api/documents", got.path)
	assert.Contains(t, got.query, "page=2")
	assert.Contains(t, got.query, "tag=a+b")

	_, err = exec.Execute(context.Background(), transport.NewRequest(http.MethodGet, srv.URL+"/file-save/x.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "/file-save/x.pdf", (<-seen).path, "absolute URLs bypass the base path")
}

func TestExecute_NonSuccessIsNotAnError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, seen := newTestServer(t, status, `{"detail":"nope"}`)
			exec := newExecutor(t, srv, nil, time.Second)

			resp, err := exec.Execute(context.Background(), transport.NewRequest(http.MethodGet, "/x"))

			require.NoError(t, err)
			<-seen
			assert.Equal(t, status, resp.Status)
			assert.False(t, resp.OK())
			assert.JSONEq(t, `{"detail":"nope"}`, string(resp.Body))
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	exec := newExecutor(t, srv, nil, time.Second)

	start := time.Now()
	_, err := exec.Execute(context.Background(),
		transport.NewRequest(http.MethodGet, "/slow").WithTimeout(10*time.Millisecond))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.True(t, domain.IsRetryable(err))
	assert.Less(t, elapsed, 100*time.Millisecond, "timeout must settle promptly")
}

func TestExecute_CallerCancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	exec := newExecutor(t, srv, nil, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := exec.Execute(ctx, transport.NewRequest(http.MethodGet, "/slow"))

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}

func TestExecute_NetworkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	exec, err := transport.New(transport.Config{BaseURL: url, Logger: observability.Discard()})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), transport.NewRequest(http.MethodGet, "/x"))

	require.ErrorIs(t, err, domain.ErrNetworkUnreachable)
	assert.True(t, domain.IsTransportError(err))
}

func TestExecute_BodyLimit(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, strings.Repeat("x", 64))
	exec, err := transport.New(transport.Config{
		BaseURL:          srv.URL,
		HTTPClient:       srv.Client(),
		MaxResponseBytes: 16,
		Logger:           observability.Discard(),
	})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), transport.NewRequest(http.MethodGet, "/big"))
	<-seen

	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestExecute_PropagatesTraceContext(t *testing.T) {
	prevProp := otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})

	srv, seen := newTestServer(t, http.StatusOK, `{}`)
	exec := newExecutor(t, srv, nil, time.Second)

	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	_, err := exec.Execute(ctx, transport.NewRequest(http.MethodGet, "/x"))
	span.End()

	require.NoError(t, err)
	traceparent := (<-seen).header.Get("Traceparent")
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}

func TestRequestSpec_WithHeaderCopies(t *testing.T) {
	orig := transport.RequestSpec{Headers: map[string]string{"Authorization": "Bearer old", "X-A": "1"}}

	next := orig.WithHeader("AUTHORIZATION", "Bearer new")

	v, ok := orig.Header("authorization")
	require.True(t, ok)
	assert.Equal(t, "Bearer old", v, "original spec is untouched")

	v, ok = next.Header("Authorization")
	require.True(t, ok)
	assert.Equal(t, "Bearer new", v)
	assert.Len(t, next.Headers, 2, "case-insensitive replace, not append")
}

func TestNewJSONRequest_Unencodable(t *testing.T) {
	_, err := transport.NewJSONRequest(http.MethodPost, "/x", map[string]any{"c": make(chan int)})

	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrRequestFailed))
}
