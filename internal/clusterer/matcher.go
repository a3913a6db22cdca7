package clusterer

import "time"

// Defaults for the matcher knobs.
const (
	// DefaultThreshold is the combined-score bar for joining a cluster.
	DefaultThreshold = 0.75
	// DefaultMinKeywordOverlap shortlists candidates sharing at least this
	// many keywords when no entity is shared.
	DefaultMinKeywordOverlap = 3
)

// Candidate is an active cluster viewed through the matcher.
type Candidate struct {
	ID            int64
	Label         string
	Keywords      []string
	Entities      []string
	LastUpdatedAt time.Time
}

// Matcher decides which active cluster, if any, an item belongs to.
type Matcher struct {
	Threshold         float64
	MinKeywordOverlap int
}

// NewMatcher creates a Matcher, substituting defaults for zero values.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{
		Threshold:         threshold,
		MinKeywordOverlap: DefaultMinKeywordOverlap,
	}
}

// shortlisted reports whether a candidate shares enough raw signal with the
// item to be worth scoring at all.
func (m *Matcher) shortlisted(sig Signature, c Candidate) bool {
	if Intersection(sig.Entities, c.Entities) >= 1 {
		return true
	}
	return Intersection(sig.Keywords, c.Keywords) >= m.MinKeywordOverlap
}

// Best returns the highest-scoring candidate at or above the threshold, or
// nil when the item matches nothing. Exact ties go to the most recently
// updated cluster.
func (m *Matcher) Best(sig Signature, candidates []Candidate) (*Candidate, float64) {
	var best *Candidate
	var bestScore float64

	for i := range candidates {
		c := &candidates[i]
		if !m.shortlisted(sig, *c) {
			continue
		}
		s := Score(sig, c.Label, c.Keywords, c.Entities)
		if s < m.Threshold {
			continue
		}
		switch {
		case best == nil, s > bestScore:
			best, bestScore = c, s
		case s == bestScore && c.LastUpdatedAt.After(best.LastUpdatedAt):
			best = c
		}
	}

	return best, bestScore
}
