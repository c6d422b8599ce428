// Package engine contains the external capability adapters: document
// converters and layout detectors. Adapters are built once per process and
// are safe for concurrent use. None of them retry.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/spherical/doc-converter/internal/domain"
)

// maxErrorBody caps how much of a failed response is kept for logs.
const maxErrorBody = 4 << 10

// uploadFile sends data as the multipart field "file" and returns the
// response for the caller to decode. Non-2xx responses become errors.
func uploadFile(ctx context.Context, client *http.Client, url, filename, contentType string, data []byte) (*http.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// classify maps a transport or decoding failure to a domain error at stage.
// Cancellation of the caller's context is reported as canceled rather than
// as an engine failure.
func classify(ctx context.Context, stage, message string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return domain.CanceledError(stage, err)
	}
	return domain.ConversionError(stage, message, err)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
