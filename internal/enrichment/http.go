package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"applypilot/internal/services"
)

const maxPageBytes = 8 << 20

// HTTPSource fetches the posting page itself and extracts the detail.
type HTTPSource struct {
	client    *http.Client
	userAgent string
}

// NewHTTPSource returns a source using client, or a client with a 30s
// timeout when nil.
func NewHTTPSource(client *http.Client, userAgent string) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{client: client, userAgent: userAgent}
}

// Enrich downloads pageURL and extracts its description and apply link.
func (s *HTTPSource) Enrich(ctx context.Context, pageURL string) (Detail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Detail{}, services.Wrap(services.ErrValidation, "enrich", "build request", pageURL, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Detail{}, services.Wrap(services.ErrTimeout, "enrich", "fetch", pageURL, err)
		}
		if ctx.Err() != nil {
			return Detail{}, ctx.Err()
		}
		return Detail{}, services.Wrap(services.ErrTransient, "enrich", "fetch", pageURL, err)
	}
	defer resp.Body.Close()

	if marker := statusMarker(resp.StatusCode); marker != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Detail{}, services.Wrap(marker, "enrich", "fetch", fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	detail, err := Extract(resp.Request.URL.String(), io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Detail{}, services.Wrap(services.ErrTransient, "enrich", "parse page", pageURL, err)
	}
	if strings.TrimSpace(detail.FullDescription) == "" {
		return Detail{}, services.Wrap(services.ErrValidation, "enrich", "extract", "no description found", nil)
	}
	return detail, nil
}

// statusMarker maps an HTTP status to a failure marker, nil for success.
func statusMarker(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone, code == http.StatusUnavailableForLegalReasons:
		return services.ErrNotFound
	case code == http.StatusTooManyRequests:
		return services.ErrRateLimited
	case code == http.StatusRequestTimeout:
		return services.ErrTimeout
	case code >= 500:
		return services.ErrTransient
	case code >= 400:
		return services.ErrRejected
	default:
		return services.ErrTransient
	}
}
