// Package errmap classifies upstream HTTP responses into domain errors.
package errmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aelexs/authclient/internal/domain"
)

// statusMapping pairs an HTTP status with the domain sentinel it implies.
type statusMapping struct {
	status int
	err    error
}

// statusMappings lists statuses with a domain meaning beyond "request failed".
// 401 is absent: its meaning depends on the call (bad credentials on login,
// expired access token elsewhere) and callers handle it themselves.
var statusMappings = []statusMapping{
	// Validation
	{http.StatusBadRequest, domain.ErrInvalidInput},
	{http.StatusUnprocessableEntity, domain.ErrInvalidInput},

	// Permission
	{http.StatusForbidden, domain.ErrPermissionDenied},

	// Resource
	{http.StatusNotFound, domain.ErrNotFound},
	{http.StatusConflict, domain.ErrAlreadyExists},

	// Rate limiting
	{http.StatusTooManyRequests, domain.ErrRateLimited},

	// Availability
	{http.StatusBadGateway, domain.ErrUnavailable},
	{http.StatusServiceUnavailable, domain.ErrUnavailable},
	{http.StatusGatewayTimeout, domain.ErrUnavailable},
}

// FromResponse builds the error for a non-2xx response. The result is always
// a *domain.RequestError (so errors.Is(err, domain.ErrRequestFailed) holds),
// additionally wrapped in a sentinel when the status has one.
func FromResponse(op string, status int, body []byte) error {
	reqErr := domain.NewRequestError(op, status, body)
	if sentinel := Sentinel(status); sentinel != nil {
		return &classifiedError{sentinel: sentinel, RequestError: reqErr}
	}
	return reqErr
}

// Sentinel returns the domain sentinel for status, or nil if none applies.
func Sentinel(status int) error {
	for _, m := range statusMappings {
		if m.status == status {
			return m.err
		}
	}
	return nil
}

// classifiedError is a RequestError that also matches a status sentinel.
type classifiedError struct {
	sentinel error
	*domain.RequestError
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s (%v)", e.RequestError.Error(), e.sentinel)
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.sentinel, e.RequestError}
}

// Detail extracts a human-readable message from an error body. It
// understands {"detail": "..."}, {"detail": [{"msg": "..."}]}, and
// {"message": "..."}; anything else yields "".
func Detail(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return payload.Message
}

// Message renders err for a person: the upstream detail when the error
// carries a response body, otherwise err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		if d := Detail(reqErr.Body); d != "" {
			return fmt.Sprintf("%s (status %d)", d, reqErr.Status)
		}
	}
	return err.Error()
}
