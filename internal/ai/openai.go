package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
)

const completionTimeout = 90 * time.Second

// OpenAI implements all four capabilities against the OpenAI chat API or any
// compatible endpoint.
type OpenAI struct {
	client *openai.Client
	model  string

	mu     sync.Mutex
	tokens *reliability.Budget
}

var (
	_ Scorer            = (*OpenAI)(nil)
	_ Synthesizer       = (*OpenAI)(nil)
	_ ComponentSelector = (*OpenAI)(nil)
	_ ComponentRenderer = (*OpenAI)(nil)
)

// NewOpenAI builds a client for the given key and model. A non-empty baseURL
// points the client at a compatible provider instead of api.openai.com.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// SetCycleBudget installs the token budget for the coming cycle. All model
// calls draw from it until the next cycle replaces it; nil removes the cap.
func (c *OpenAI) SetCycleBudget(b *reliability.Budget) {
	c.mu.Lock()
	c.tokens = b
	c.mu.Unlock()
}

func (c *OpenAI) budget() *reliability.Budget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// complete performs one JSON-mode chat completion and returns the raw
// message content.
func (c *OpenAI) complete(ctx context.Context, op, system, user string) (string, error) {
	if b := c.budget(); b != nil {
		if err := b.Take(); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", classifyAPIError(op, err)
	}
	if b := c.budget(); b != nil {
		b.Spend(int64(resp.Usage.TotalTokens))
	}
	if len(resp.Choices) == 0 {
		return "", reliability.InvalidOutput(op, errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps provider errors onto the shared failure kinds. The
// client does not surface Retry-After headers, so rate limits fall back to
// the default delay.
func classifyAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return reliability.RateLimited(op, err, 0)
	}
	return reliability.TransientError(op, err)
}

// ScoreItem rates one item. Tier adjustment happens in the scoring stage,
// not here; this returns the model's raw verdict.
func (c *OpenAI) ScoreItem(ctx context.Context, in ScoreInput) (ScoreResult, error) {
	out, err := c.complete(ctx, "score", scoreSystemPrompt, scoreUserPrompt(in))
	if err != nil {
		return ScoreResult{}, err
	}
	var r ScoreResult
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		return ScoreResult{}, reliability.InvalidOutput("score", err)
	}
	if err := ValidateScore(r); err != nil {
		return ScoreResult{}, reliability.InvalidOutput("score", err)
	}
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	return r, nil
}

// Synthesize writes the dual-register draft for one cluster.
func (c *OpenAI) Synthesize(ctx context.Context, sources []SourcePackage) (Draft, error) {
	if len(sources) == 0 {
		return Draft{}, reliability.SkippedError("synthesise", errors.New("no sources"))
	}
	out, err := c.complete(ctx, "synthesise", synthesiseSystemPrompt, synthesiseUserPrompt(sources))
	if err != nil {
		return Draft{}, err
	}
	var d Draft
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		return Draft{}, reliability.InvalidOutput("synthesise", err)
	}
	if err := ValidateDraft(d); err != nil {
		return Draft{}, reliability.InvalidOutput("synthesise", err)
	}
	return d, nil
}

// SelectComponents picks the ordered component subset for an article.
// Unknown component names are discarded; an empty result after filtering is
// invalid output, and the caller decides on the fallback.
func (c *OpenAI) SelectComponents(ctx context.Context, title, body string) (Selection, error) {
	out, err := c.complete(ctx, "components", selectSystemPrompt, selectUserPrompt(title, body))
	if err != nil {
		return Selection{}, err
	}
	var sel Selection
	if err := json.Unmarshal([]byte(out), &sel); err != nil {
		return Selection{}, reliability.InvalidOutput("components", err)
	}
	sel.Components = FilterComponents(sel.Components)
	if len(sel.Components) == 0 {
		return Selection{}, reliability.InvalidOutput("components", errors.New("no valid components selected"))
	}
	return sel, nil
}

// RenderTimeline emits the final timeline payload from the researched facts.
func (c *OpenAI) RenderTimeline(ctx context.Context, article string, bundle []models.TimelineEntry) ([]models.TimelineEntry, error) {
	user := renderUserPrompt(article, map[string]any{"timeline": bundle})
	out, err := c.complete(ctx, "render timeline", renderTimelineSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Timeline []models.TimelineEntry `json:"timeline"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, reliability.InvalidOutput("render timeline", err)
	}
	if err := ValidateTimeline(resp.Timeline); err != nil {
		return nil, reliability.InvalidOutput("render timeline", err)
	}
	return resp.Timeline, nil
}

// RenderDetails emits the final key-details payload.
func (c *OpenAI) RenderDetails(ctx context.Context, article string, bundle []string) ([]string, error) {
	user := renderUserPrompt(article, map[string]any{"details": bundle})
	out, err := c.complete(ctx, "render details", renderDetailsSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Details []string `json:"details"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, reliability.InvalidOutput("render details", err)
	}
	if err := ValidateDetails(resp.Details); err != nil {
		return nil, reliability.InvalidOutput("render details", err)
	}
	return resp.Details, nil
}

// RenderChart emits the final chart payload. The subtype tag from selection
// steers the rendering but is not part of the stored payload.
func (c *OpenAI) RenderChart(ctx context.Context, article string, bundle *models.ChartPayload, subtype string) (*models.ChartPayload, error) {
	user := renderUserPrompt(article, map[string]any{"chart": bundle})
	if subtype != "" {
		user += fmt.Sprintf("\n\nCHART SUBTYPE: %s", subtype)
	}
	out, err := c.complete(ctx, "render chart", renderChartSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Chart *models.ChartPayload `json:"chart"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, reliability.InvalidOutput("render chart", err)
	}
	if err := ValidateChart(resp.Chart); err != nil {
		return nil, reliability.InvalidOutput("render chart", err)
	}
	return resp.Chart, nil
}
