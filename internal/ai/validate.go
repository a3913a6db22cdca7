package ai

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newsloom/newsloom/internal/models"
)

// Limits from the synthesis and component contracts.
const (
	bulletCount    = 3
	bulletMinWords = 18
	bulletMaxWords = 25
	bodyMinWords   = 220
	bodyMaxWords   = 280
	bodyParagraphs = 5

	timelineMinEntries    = 2
	timelineMaxEntries    = 4
	timelineEventMaxWords = 14
	detailCount           = 3
	detailMaxWords        = 8
	chartMinPoints        = 4
)

// allowedComponents is the component set honoured by this version. The
// selector may name others (geo stays recognised downstream but inert
// here); they are discarded.
var allowedComponents = map[string]bool{
	models.ComponentTimeline: true,
	models.ComponentDetails:  true,
	models.ComponentChart:    true,
}

// WordCount counts whitespace-separated tokens.
func WordCount(s string) int { return len(strings.Fields(s)) }

// Paragraphs splits a body into non-empty paragraphs. Blank-line and
// single-newline separators are both accepted; models emit either.
func Paragraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(body, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateDraft enforces the synthesis contract: both registers present,
// exactly three bullets of 18-25 words per register, bodies of 220-280
// words in five paragraphs.
func ValidateDraft(d Draft) error {
	if strings.TrimSpace(d.TitlePro) == "" || strings.TrimSpace(d.TitleSimple) == "" {
		return errors.New("draft: missing title in one register")
	}
	if err := validateBullets("bullets_pro", d.BulletsPro); err != nil {
		return err
	}
	if err := validateBullets("bullets_simple", d.BulletsSimple); err != nil {
		return err
	}
	if err := validateBody("body_pro", d.BodyPro); err != nil {
		return err
	}
	return validateBody("body_simple", d.BodySimple)
}

func validateBullets(field string, bullets []string) error {
	if len(bullets) != bulletCount {
		return fmt.Errorf("draft: %s has %d bullets, want %d", field, len(bullets), bulletCount)
	}
	for i, b := range bullets {
		if n := WordCount(b); n < bulletMinWords || n > bulletMaxWords {
			return fmt.Errorf("draft: %s[%d] has %d words, want %d-%d",
				field, i, n, bulletMinWords, bulletMaxWords)
		}
	}
	return nil
}

func validateBody(field, body string) error {
	if n := WordCount(body); n < bodyMinWords || n > bodyMaxWords {
		return fmt.Errorf("draft: %s has %d words, want %d-%d", field, n, bodyMinWords, bodyMaxWords)
	}
	if n := len(Paragraphs(body)); n != bodyParagraphs {
		return fmt.Errorf("draft: %s has %d paragraphs, want %d", field, n, bodyParagraphs)
	}
	return nil
}

// ValidateScore bounds the model score.
func ValidateScore(r ScoreResult) error {
	if r.Score < 0 || r.Score > 1000 {
		return fmt.Errorf("score %d outside [0, 1000]", r.Score)
	}
	return nil
}

// FilterComponents keeps only allowed component names, preserving order and
// dropping repeats.
func FilterComponents(components []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range components {
		c = strings.ToLower(strings.TrimSpace(c))
		if allowedComponents[c] && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// FallbackComponents is what an article gets when selection fails. Articles
// never publish with an empty component list.
func FallbackComponents() []string {
	return []string{models.ComponentDetails, models.ComponentTimeline}
}

// timelineDateLayouts are the date shapes accepted for timeline entries.
var timelineDateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func parseTimelineDate(s string) (time.Time, error) {
	for _, layout := range timelineDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ValidateTimeline enforces 2-4 chronological entries with parseable dates
// and events of at most 14 words.
func ValidateTimeline(entries []models.TimelineEntry) error {
	if len(entries) < timelineMinEntries || len(entries) > timelineMaxEntries {
		return fmt.Errorf("timeline: %d entries, want %d-%d",
			len(entries), timelineMinEntries, timelineMaxEntries)
	}
	var prev time.Time
	for i, e := range entries {
		t, err := parseTimelineDate(e.Date)
		if err != nil {
			return fmt.Errorf("timeline[%d]: %w", i, err)
		}
		if i > 0 && t.Before(prev) {
			return fmt.Errorf("timeline[%d]: out of chronological order", i)
		}
		prev = t
		if n := WordCount(e.Event); n == 0 || n > timelineEventMaxWords {
			return fmt.Errorf("timeline[%d]: event has %d words, max %d",
				i, n, timelineEventMaxWords)
		}
	}
	return nil
}

// ValidateDetails enforces exactly three "Label: Value" strings of at most
// eight words each.
func ValidateDetails(details []string) error {
	if len(details) != detailCount {
		return fmt.Errorf("details: %d entries, want %d", len(details), detailCount)
	}
	for i, d := range details {
		idx := strings.Index(d, ":")
		if idx <= 0 || strings.TrimSpace(d[idx+1:]) == "" {
			return fmt.Errorf("details[%d]: not in Label: Value form", i)
		}
		if n := WordCount(d); n > detailMaxWords {
			return fmt.Errorf("details[%d]: %d words, max %d", i, n, detailMaxWords)
		}
	}
	return nil
}

// ValidateChart enforces at least four dated points and both axis labels.
func ValidateChart(c *models.ChartPayload) error {
	if c == nil {
		return errors.New("chart: missing payload")
	}
	if len(c.Points) < chartMinPoints {
		return fmt.Errorf("chart: %d points, want at least %d", len(c.Points), chartMinPoints)
	}
	if strings.TrimSpace(c.XLabel) == "" || strings.TrimSpace(c.YLabel) == "" {
		return errors.New("chart: missing axis labels")
	}
	for i, p := range c.Points {
		if strings.TrimSpace(p.Date) == "" {
			return fmt.Errorf("chart point %d: missing date", i)
		}
	}
	return nil
}
