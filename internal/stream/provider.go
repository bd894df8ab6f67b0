package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrProviderUnavailable = errors.New("counters endpoint is unavailable")
	ErrBadStatus           = errors.New("unexpected status from counters endpoint")
	ErrMalformedCounters   = errors.New("malformed counters")
)

// HTTPProvider reads counters from a JSON endpoint shaped like Counters,
// typically a small bridge that owns the platform credentials
type HTTPProvider struct {
	httpClient *http.Client
	url        string
}

// NewHTTPProvider creates a provider for url
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultTrackerConfig().Timeout
	}
	return &HTTPProvider{
		httpClient: &http.Client{Timeout: timeout},
		url:        strings.TrimSpace(url),
	}
}

// Counters implements CountersProvider
func (p *HTTPProvider) Counters(ctx context.Context) (Counters, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Counters{}, fmt.Errorf("failed to build counters request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Counters{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Counters{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	var c Counters
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return Counters{}, fmt.Errorf("%w: %v", ErrMalformedCounters, err)
	}
	if c.Followers < 0 || c.Subscribers < 0 || c.Viewers < 0 {
		return Counters{}, fmt.Errorf("%w: negative count", ErrMalformedCounters)
	}
	return c, nil
}
