// Package ai defines the model-backed capabilities the pipeline consumes
// (scoring, synthesis, component selection, component rendering) and an
// OpenAI-backed implementation of all four.
package ai

import (
	"context"
	"time"

	"github.com/newsloom/newsloom/internal/models"
)

// ScoreInput is one item presented for scoring.
type ScoreInput struct {
	Title   string
	Source  string
	Excerpt string
}

// ScoreResult is the scoring verdict: newsworthiness on a 0-1000 scale plus
// presentation metadata carried through to publishing.
type ScoreResult struct {
	Score     int    `json:"score"`
	Category  string `json:"category"`
	Emoji     string `json:"emoji"`
	Reasoning string `json:"reasoning"`
}

// SourcePackage is one cluster member prepared for the synthesis prompt:
// ordered by descending score upstream, text already truncated.
type SourcePackage struct {
	Publisher   string
	Title       string
	PublishedAt time.Time
	Text        string
}

// Draft is the dual-register article produced from one cluster. Pro targets
// readers who follow the story; simple is plain language in short sentences.
type Draft struct {
	TitlePro      string   `json:"title_pro"`
	TitleSimple   string   `json:"title_simple"`
	BulletsPro    []string `json:"bullets_pro"`
	BulletsSimple []string `json:"bullets_simple"`
	BodyPro       string   `json:"body_pro"`
	BodySimple    string   `json:"body_simple"`
}

// Selection is the component-selection verdict for one article: which
// visual components to attach, in importance order.
type Selection struct {
	Components   []string `json:"components"`
	Emoji        string   `json:"emoji"`
	ChartSubtype string   `json:"chart_subtype,omitempty"`
}

// Scorer rates one item for newsworthiness.
type Scorer interface {
	ScoreItem(ctx context.Context, in ScoreInput) (ScoreResult, error)
}

// Synthesizer produces the dual-register draft from ordered source packages.
type Synthesizer interface {
	Synthesize(ctx context.Context, sources []SourcePackage) (Draft, error)
}

// ComponentSelector picks the ordered component subset for an article.
type ComponentSelector interface {
	SelectComponents(ctx context.Context, title, body string) (Selection, error)
}

// ComponentRenderer turns a researched fact bundle into the final payload
// for one component of one article.
type ComponentRenderer interface {
	RenderTimeline(ctx context.Context, article string, bundle []models.TimelineEntry) ([]models.TimelineEntry, error)
	RenderDetails(ctx context.Context, article string, bundle []string) ([]string, error)
	RenderChart(ctx context.Context, article string, bundle *models.ChartPayload, subtype string) (*models.ChartPayload, error)
}
