// Package images picks the representative image for a cluster. Candidates
// are scored on source reputation, inferred dimensions, aspect ratio, the
// member's own score, and format, and the strongest wins.
package images

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/newsloom/newsloom/internal/models"
)

// Selection is the winning image for a cluster, with the publisher it is
// attributed to.
type Selection struct {
	URL         string
	Attribution string
	Tier        int
	Points      int
}

// Pick scores every member that carries an image URL and returns the
// strongest, or nil when no member has one. Ties go to the earliest
// published item. tiers maps publisher name to reputation tier (1 strongest,
// 0 unknown).
func Pick(items []*models.SourceItem, tiers map[string]int) *Selection {
	var best *Selection
	var bestItem *models.SourceItem

	for _, it := range items {
		if it.ImageURL == "" {
			continue
		}
		tier := tiers[it.Source]
		pts := score(it, tier)
		if best != nil {
			if pts < best.Points {
				continue
			}
			if pts == best.Points && !it.PublishedAt.Before(bestItem.PublishedAt) {
				continue
			}
		}
		best = &Selection{URL: it.ImageURL, Attribution: it.Source, Tier: tier, Points: pts}
		bestItem = it
	}
	return best
}

func score(it *models.SourceItem, tier int) int {
	pts := tierPoints(tier)
	w, h := dimensions(it)
	pts += areaPoints(w, h)
	pts += aspectPoints(w, h)
	pts += itemScorePoints(it.Score)
	pts += formatPoints(it.ImageURL)
	return pts
}

func tierPoints(tier int) int {
	switch tier {
	case 1:
		return 30
	case 2:
		return 20
	case 3:
		return 10
	}
	return 0
}

// dimensions prefers the width/height the feed declared and falls back to
// whatever the URL itself gives away. Zero means unknown.
func dimensions(it *models.SourceItem) (int, int) {
	if it.ImageWidth > 0 && it.ImageHeight > 0 {
		return it.ImageWidth, it.ImageHeight
	}
	return dimensionsFromURL(it.ImageURL)
}

var urlDimsPattern = regexp.MustCompile(`(\d{2,4})x(\d{2,4})`)

// dimensionsFromURL recognises the two common CDN conventions: a WxH token
// in the path ("photo-1200x800.jpg") and width/height query parameters.
func dimensionsFromURL(raw string) (int, int) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, 0
	}

	q := u.Query()
	w := firstInt(q, "w", "width")
	h := firstInt(q, "h", "height")
	if w > 0 && h > 0 {
		return w, h
	}

	if m := urlDimsPattern.FindStringSubmatch(u.Path); m != nil {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		return w, h
	}
	return 0, 0
}

func firstInt(q url.Values, keys ...string) int {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func areaPoints(w, h int) int {
	if w <= 0 || h <= 0 {
		return 10
	}
	area := w * h
	switch {
	case area >= 800*600:
		return 30
	case area >= 400*300:
		return 20
	}
	return 10
}

func aspectPoints(w, h int) int {
	if w <= 0 || h <= 0 {
		return 10
	}
	ratio := float64(w) / float64(h)
	if ratio >= 1.3 && ratio <= 2.0 {
		return 20
	}
	return 10
}

func itemScorePoints(score *int) int {
	if score == nil {
		return 0
	}
	return int(math.Round(float64(*score) / 1000 * 20))
}

func formatPoints(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	path := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"), strings.HasSuffix(path, ".webp"):
		return 5
	case strings.HasSuffix(path, ".png"):
		return 3
	}
	return 0
}
