package models

// Component kinds a published article may carry, in the order the selector
// emitted them.
const (
	ComponentTimeline = "timeline"
	ComponentDetails  = "details"
	ComponentChart    = "chart"
)

// TimelineEntry is one dated step in how an event unfolded.
type TimelineEntry struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// Details payloads are stored as three "Label: Value" strings; the
// downstream renderer splits on the first colon.

// ChartPoint is a single dated value in a chart series.
type ChartPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Label string  `json:"label,omitempty"`
}

// ChartPayload is a small single-series chart with labelled axes.
type ChartPayload struct {
	Points []ChartPoint `json:"points"`
	XLabel string       `json:"x_label"`
	YLabel string       `json:"y_label"`
}
