package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/transport"
)

// UploadFile is one file part of a multipart upload.
type UploadFile struct {
	Name    string
	Content io.Reader
}

// UploadRequest describes a multipart upload. Zero Path and Field default to
// the storage endpoint and its "files" field.
type UploadRequest struct {
	Path   string
	Field  string
	Files  []UploadFile
	Params url.Values // Sent as query parameters, e.g. tags
}

// Upload posts files as multipart/form-data. The body is buffered so the
// retry after a token refresh resends it unchanged.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (json.RawMessage, error) {
	if req.Path == "" {
		req.Path = domain.UploadPath
	}
	if req.Field == "" {
		req.Field = domain.UploadField
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range req.Files {
		part, err := mw.CreateFormFile(req.Field, f.Name)
		if err != nil {
			return nil, fmt.Errorf("upload: create part %q: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("upload: read %q: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: finish body: %w", err)
	}

	spec := transport.RequestSpec{
		Method:  http.MethodPost,
		Path:    req.Path,
		Query:   req.Params,
		Body:    buf.Bytes(),
		Headers: map[string]string{"Content-Type": mw.FormDataContentType()},
	}
	return c.Request(ctx, spec)
}

// Download fetches path as raw bytes through the same refresh-and-retry
// path as Request. path may be absolute.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "client.download")
	defer span.End()

	spec := transport.NewRequest(http.MethodGet, path).WithHeader("Accept", "*/*")
	resp, err := c.send(ctx, spec)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return resp.Body, nil
}
