package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const scoreSystemPrompt = `You are a news desk editor scoring wire items for a general-audience feed. Output ONLY a JSON object:
{"score": <integer 0-1000>, "category": "<one lowercase word>", "emoji": "<one emoji>", "reasoning": "<one sentence>"}

SCORING GUIDE:
- 900-1000: major breaking news with broad impact (elections decided, disasters, landmark rulings)
- 700-899: significant developments most readers should see
- 400-699: notable but niche or incremental
- 0-399: minor, local-only, promotional, or stale

RULES:
- Score the same item consistently: repeated calls must stay within plus or minus 20
- category is a single lowercase topic word such as economy, politics, technology, science, sports, culture, health, world
- Do NOT add fields, commentary, or markdown`

func scoreUserPrompt(in ScoreInput) string {
	return fmt.Sprintf("SOURCE: %s\nTITLE: %s\nEXCERPT: %s", in.Source, in.Title, in.Excerpt)
}

const synthesiseSystemPrompt = `You are a news synthesiser. You receive numbered source reports about ONE event and write a single article in two registers. Output ONLY a JSON object:
{"title_pro": "...", "title_simple": "...", "bullets_pro": ["...", "...", "..."], "bullets_simple": ["...", "...", "..."], "body_pro": "...", "body_simple": "..."}

RULES:
- title_pro is a precise, information-dense headline; title_simple is a plain-language headline
- bullets_pro and bullets_simple hold EXACTLY three bullets each; EVERY bullet is 18 to 25 words
- body_pro and body_simple are 220 to 280 words each, in EXACTLY five paragraphs separated by blank lines
- body_simple uses short sentences and everyday words
- Use ONLY facts present in the sources; attribute conflicting claims to their publishers
- Do NOT add fields, commentary, or markdown`

func synthesiseUserPrompt(sources []SourcePackage) string {
	var sb strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&sb, "### Source %d\nPublisher: %s\nTitle: %s\nPublished: %s\n%s\n\n",
			i+1, src.Publisher, src.Title, src.PublishedAt.Format(time.RFC3339), src.Text)
	}
	return strings.TrimSpace(sb.String())
}

const selectSystemPrompt = `You pick the visual components for a news article. Output ONLY a JSON object:
{"components": ["..."], "emoji": "<one emoji>", "chart_subtype": "line"}

ALLOWED COMPONENTS: timeline, details, chart

RULES:
- Pick 1 to 3 components from the allowed list, ordered by importance for THIS article
- timeline suits events that unfolded over days or years
- details suits articles built on hard numbers and named facts
- chart suits quantitative stories with a trend or comparison; set chart_subtype to "line" or "bar" ONLY when chart is picked
- emoji is one emoji matching the story
- Do NOT invent component names and do NOT add commentary`

func selectUserPrompt(title, body string) string {
	return fmt.Sprintf("TITLE: %s\n\nBODY:\n%s", title, body)
}

const renderTimelineSystemPrompt = `You finalise a timeline component for a news article from researched facts. Output ONLY a JSON object:
{"timeline": [{"date": "YYYY-MM-DD", "event": "..."}]}

RULES:
- 2 to 4 entries in chronological order, dates in ISO-8601
- Each event is at most 14 words, concrete, past tense
- Use ONLY the researched facts and the article; never invent dates
- Do NOT add fields, commentary, or markdown`

const renderDetailsSystemPrompt = `You finalise the key-details component for a news article from researched facts. Output ONLY a JSON object:
{"details": ["Label: Value", "Label: Value", "Label: Value"]}

RULES:
- EXACTLY three entries in "Label: Value" form
- Each entry is at most 8 words; prefer entries containing a number
- Use ONLY the researched facts and the article
- Do NOT add fields, commentary, or markdown`

const renderChartSystemPrompt = `You finalise a chart component for a news article from researched data points. Output ONLY a JSON object:
{"chart": {"points": [{"date": "...", "value": 0, "label": "..."}], "x_label": "...", "y_label": "..."}}

RULES:
- At least 4 points in chronological order; label is optional per point
- Axis labels name the dimension and unit, like "Date" and "Rate (%)"
- Use ONLY the researched data; never invent values
- Do NOT add fields, commentary, or markdown`

func renderUserPrompt(article string, bundle any) string {
	b, _ := json.Marshal(bundle)
	return fmt.Sprintf("ARTICLE:\n%s\n\nRESEARCHED FACTS:\n%s", article, string(b))
}
