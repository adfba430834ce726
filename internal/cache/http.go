package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultPurgeTimeout = 10 * time.Second

// HTTPPurge asks a reverse proxy to drop its cache with a PURGE request
type HTTPPurge struct {
	name   string
	url    string
	method string
	client *http.Client
}

// NewHTTPPurge creates an HTTP purge backend. method defaults to PURGE.
func NewHTTPPurge(name, url, method string, timeout time.Duration) *HTTPPurge {
	if name == "" {
		name = "http:" + url
	}
	if method == "" {
		method = "PURGE"
	}
	if timeout <= 0 {
		timeout = defaultPurgeTimeout
	}
	return &HTTPPurge{
		name:   name,
		url:    url,
		method: method,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name
func (h *HTTPPurge) Name() string {
	return h.name
}

// TryInvalidate sends the purge request. A proxy that does not support
// purging (404, 405, 501) counts as absent.
func (h *HTTPPurge) TryInvalidate(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, nil)
	if err != nil {
		return false, fmt.Errorf("build purge request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("purge %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotImplemented:
		return false, nil
	default:
		return false, fmt.Errorf("purge %s: unexpected status %s", h.url, resp.Status)
	}
}

func httpFactory(spec BackendSpec) (Backend, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	return NewHTTPPurge(spec.Name, spec.URL, spec.Method, spec.Timeout), nil
}
