package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource fetches flight status from a JSON flight-data endpoint.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource creates a source rooted at the given base URL.
func NewHTTPSource(base string) *HTTPSource {
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ Source = (*HTTPSource)(nil)

// FlightStatus implements Source.
func (s *HTTPSource) FlightStatus(ctx context.Context, scheduleKey string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.base+"/flights/"+url.PathEscape(scheduleKey), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrich: upstream status %d for %q", resp.StatusCode, scheduleKey)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("enrich: decode status for %q: %w", scheduleKey, err)
	}
	status.ScheduleKey = scheduleKey
	return &status, nil
}
