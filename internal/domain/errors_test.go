package domain_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/authclient/internal/domain"
)

func TestRequestError(t *testing.T) {
	t.Run("matches ErrRequestFailed", func(t *testing.T) {
		err := domain.NewRequestError("get user", http.StatusNotFound, []byte(`{"detail":"nope"}`))

		assert.ErrorIs(t, err, domain.ErrRequestFailed)
		assert.NotErrorIs(t, err, domain.ErrAuthenticationExpired)
		assert.Equal(t, "get user: request failed: status 404", err.Error())
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", domain.NewRequestError("", http.StatusBadGateway, nil))

		assert.ErrorIs(t, err, domain.ErrRequestFailed)
		assert.Equal(t, http.StatusBadGateway, domain.StatusCode(err))
	})

	t.Run("body is copied", func(t *testing.T) {
		body := []byte("original")
		err := domain.NewRequestError("op", http.StatusBadRequest, body)
		body[0] = 'X'

		assert.Equal(t, "original", string(err.Body))
	})

	t.Run("nil receiver", func(t *testing.T) {
		var err *domain.RequestError
		assert.Equal(t, "request failed", err.Error())
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, domain.StatusCode(nil))
	assert.Equal(t, 0, domain.StatusCode(domain.ErrTimeout))
	assert.Equal(t, http.StatusUnauthorized, domain.StatusCode(domain.NewRequestError("", http.StatusUnauthorized, nil)))
}

func TestIsSessionCleared(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ErrAuthenticationExpired", domain.ErrAuthenticationExpired, true},
		{"ErrRefreshFailed", domain.ErrRefreshFailed, true},
		{"expired wrapping refresh failure", fmt.Errorf("%w: %w", domain.ErrAuthenticationExpired, domain.ErrRefreshFailed), true},
		{"ErrInvalidCredentials", domain.ErrInvalidCredentials, false},
		{"ErrTimeout", domain.ErrTimeout, false},
		{"401 request error", domain.NewRequestError("", http.StatusUnauthorized, nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.IsSessionCleared(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ErrTimeout", domain.ErrTimeout, true},
		{"ErrNetworkUnreachable", domain.ErrNetworkUnreachable, true},
		{"wrapped ErrTimeout", fmt.Errorf("get: %w", domain.ErrTimeout), true},
		{"503", domain.NewRequestError("", http.StatusServiceUnavailable, nil), true},
		{"429", domain.NewRequestError("", http.StatusTooManyRequests, nil), true},
		{"404", domain.NewRequestError("", http.StatusNotFound, nil), false},
		{"ErrMalformedResponse", domain.ErrMalformedResponse, false},
		{"ErrAuthenticationExpired", domain.ErrAuthenticationExpired, false},
		{"random error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.IsRetryable(tt.err))
		})
	}
}

func TestIsTransportError(t *testing.T) {
	assert.True(t, domain.IsTransportError(domain.ErrTimeout))
	assert.True(t, domain.IsTransportError(fmt.Errorf("x: %w", domain.ErrNetworkUnreachable)))
	assert.False(t, domain.IsTransportError(domain.ErrMalformedResponse))
	assert.False(t, domain.IsTransportError(nil))
}
