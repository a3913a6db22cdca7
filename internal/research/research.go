// Package research resolves verified facts for article components through an
// external search service. The service takes the article title, a body
// excerpt, and the component kinds being generated, and returns a fact bundle
// per component: dated timeline events, labelled detail facts, and chart
// series points.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/newsloom/newsloom/internal/ai"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
)

const (
	requestTimeout = 30 * time.Second
	maxExcerptLen  = 1200
	maxBodyBytes   = 512 * 1024
)

// Request names the article and the components to research.
type Request struct {
	Title       string   `json:"title"`
	BodyExcerpt string   `json:"body_excerpt"`
	Components  []string `json:"components"`
}

// Bundle holds the researched facts, one section per component. Sections the
// service did not cover, or that failed shape validation, are zero.
type Bundle struct {
	Timeline []models.TimelineEntry
	Details  []string
	Chart    *models.ChartPayload
}

// Has reports whether the bundle carries facts for the given component.
func (b *Bundle) Has(component string) bool {
	if b == nil {
		return false
	}
	switch component {
	case models.ComponentTimeline:
		return len(b.Timeline) > 0
	case models.ComponentDetails:
		return len(b.Details) > 0
	case models.ComponentChart:
		return b.Chart != nil
	}
	return false
}

// Provider is the search capability the components stage depends on.
type Provider interface {
	Research(ctx context.Context, req Request) (*Bundle, error)
}

// Client talks to the research service over JSON HTTP. The configured URL is
// the complete endpoint.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

// Research asks the service for fact bundles covering req.Components. A
// section that comes back malformed is dropped with a warning rather than
// failing the call, so the caller still gets whatever validated.
func (c *Client) Research(ctx context.Context, req Request) (*Bundle, error) {
	req.BodyExcerpt = truncate(req.BodyExcerpt, maxExcerptLen)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("research: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("research: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, reliability.TransientError("research", fmt.Errorf("research: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, reliability.RateLimited("research", fmt.Errorf("research: status %d", resp.StatusCode), 0)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, reliability.TransientError("research", fmt.Errorf("research: status %d", resp.StatusCode))
	}

	var apiResp struct {
		Timeline []models.TimelineEntry `json:"timeline"`
		Details  []string               `json:"details"`
		Chart    *models.ChartPayload   `json:"chart"`
		Error    struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&apiResp); err != nil {
		return nil, reliability.InvalidOutput("research", fmt.Errorf("research: decode response: %w", err))
	}
	if apiResp.Error.Code != 0 {
		return nil, reliability.TransientError("research", fmt.Errorf("research: service error (%d): %s", apiResp.Error.Code, apiResp.Error.Message))
	}

	bundle := &Bundle{}
	for _, component := range req.Components {
		switch component {
		case models.ComponentTimeline:
			if err := ai.ValidateTimeline(apiResp.Timeline); err != nil {
				slog.Warn("research: dropping timeline facts", "error", err)
				continue
			}
			bundle.Timeline = apiResp.Timeline
		case models.ComponentDetails:
			if err := ai.ValidateDetails(apiResp.Details); err != nil {
				slog.Warn("research: dropping detail facts", "error", err)
				continue
			}
			bundle.Details = apiResp.Details
		case models.ComponentChart:
			if err := ai.ValidateChart(apiResp.Chart); err != nil {
				slog.Warn("research: dropping chart facts", "error", err)
				continue
			}
			bundle.Chart = apiResp.Chart
		}
	}
	return bundle, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
