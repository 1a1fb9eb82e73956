package enrich

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrServiceFailure is returned when an HTTP collaborator answers with a
// non-success status.
var ErrServiceFailure = errors.New("enrichment service failure")

// HTTPExtractor posts the artifact as multipart form data to an OCR or
// transcription service and reads back {"text": "..."}.
type HTTPExtractor struct {
	client *resty.Client
	url    string
}

// NewHTTPExtractor creates an extractor for the service at url. timeout
// bounds each call so a wedged service cannot hold a worker forever.
func NewHTTPExtractor(url string, timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		url: url,
	}
}

type extractResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Extract implements TextExtractor.
func (e *HTTPExtractor) Extract(ctx context.Context, a Artifact) (string, error) {
	f, err := a.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var out extractResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetFileReader("file", filepath.Base(a.Path), f).
		SetFormData(map[string]string{
			"kind":      string(a.Kind),
			"mime_type": a.MIMEType(),
		}).
		SetResult(&out).
		SetError(&out).
		Post(e.url)
	if err != nil {
		return "", fmt.Errorf("extract request failed: %w", err)
	}
	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("%w: %s returned %d: %s", ErrServiceFailure, e.url, resp.StatusCode(), msg)
	}
	return strings.TrimSpace(out.Text), nil
}
