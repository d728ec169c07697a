// Package insights pulls platform statistics for tracked creator content.
// The collector appends the readings as view snapshots; it never interprets
// them, that is the fraud sweep's and reconciler's job.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrProviderUnavailable = errors.New("insights provider unavailable")

// Stats is one platform reading for a piece of content.
type Stats struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// Provider supplies platform stats for a content URL. Auth against the
// platform APIs is the provider's problem, not ours.
type Provider interface {
	Fetch(ctx context.Context, platform, contentURL string) (*Stats, error)
}

// HTTPProvider calls the insights API over HTTP.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Fetch(ctx context.Context, platform, contentURL string) (*Stats, error) {
	q := url.Values{}
	q.Set("platform", platform)
	q.Set("url", contentURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/v1/stats?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}
