package transport

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestSpec describes one outbound call. Treat it as immutable: the
// retry path resends the same spec, so Body is held as bytes rather than
// a reader.
type RequestSpec struct {
	Method  string
	Path    string // Relative to the base URL, or an absolute http(s) URL
	Query   url.Values
	Body    []byte
	Headers map[string]string
	Timeout time.Duration // Zero means the executor default
}

// NewRequest returns a spec with no body.
func NewRequest(method, path string) RequestSpec {
	return RequestSpec{Method: method, Path: path}
}

// NewJSONRequest marshals payload as the request body.
func NewJSONRequest(method, path string, payload any) (RequestSpec, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("encode %s %s body: %w", method, path, err)
	}
	return RequestSpec{
		Method:  method,
		Path:    path,
		Body:    body,
		Headers: map[string]string{"Content-Type": contentTypeJSON},
	}, nil
}

// WithHeader returns a copy of s with header name set to value.
// An existing header of the same name, in any case, is replaced.
func (s RequestSpec) WithHeader(name, value string) RequestSpec {
	headers := make(map[string]string, len(s.Headers)+1)
	for k, v := range s.Headers {
		if !strings.EqualFold(k, name) {
			headers[k] = v
		}
	}
	headers[name] = value
	s.Headers = headers
	return s
}

// WithQuery returns a copy of s with the query parameter key set to value.
func (s RequestSpec) WithQuery(key, value string) RequestSpec {
	q := make(url.Values, len(s.Query)+1)
	maps.Copy(q, s.Query)
	q.Set(key, value)
	s.Query = q
	return s
}

// WithTimeout returns a copy of s with a per-request deadline.
func (s RequestSpec) WithTimeout(d time.Duration) RequestSpec {
	s.Timeout = d
	return s
}

// Header returns the value of the named header, matched case-insensitively.
func (s RequestSpec) Header(name string) (string, bool) {
	for k, v := range s.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Response is a fully read HTTP response. Status codes are not interpreted.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}
