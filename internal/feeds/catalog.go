// Package feeds holds the feed catalog and the polling client that turns
// configured publisher feeds into raw items.
package feeds

import (
	"encoding/json"
	"fmt"
	"os"
)

// Feed describes one publisher feed to poll.
type Feed struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// Tier ranks source authority: 1 strongest, 3 weakest, 0 unknown.
	Tier int `json:"tier"`
}

// TierScore maps a feed tier onto the 0-10 authority scale used by the
// score adjustment. Unknown tiers land on the neutral midpoint.
func TierScore(tier int) int {
	switch tier {
	case 1:
		return 8
	case 2:
		return 6
	case 3:
		return 4
	default:
		return 5
	}
}

// DefaultCatalog returns the built-in feed list used when no catalog file is
// configured.
func DefaultCatalog() []Feed {
	return []Feed{
		{Name: "BBC News", URL: "https://feeds.bbci.co.uk/news/world/rss.xml", Tier: 1},
		{Name: "Reuters", URL: "https://www.reutersagency.com/feed/?best-topics=top-news", Tier: 1},
		{Name: "The New York Times", URL: "https://rss.nytimes.com/services/xml/rss/nyt/World.xml", Tier: 1},
		{Name: "CNN", URL: "http://rss.cnn.com/rss/edition.rss", Tier: 1},
		{Name: "The Guardian", URL: "https://www.theguardian.com/world/rss", Tier: 2},
		{Name: "Al Jazeera", URL: "https://www.aljazeera.com/xml/rss/all.xml", Tier: 2},
		{Name: "NPR", URL: "https://feeds.npr.org/1001/rss.xml", Tier: 2},
		{Name: "Deutsche Welle", URL: "https://rss.dw.com/rdf/rss-en-all", Tier: 2},
		{Name: "CNBC", URL: "https://www.cnbc.com/id/100003114/device/rss/rss.html", Tier: 2},
		{Name: "France 24", URL: "https://www.france24.com/en/rss", Tier: 2},
		{Name: "TechCrunch", URL: "https://techcrunch.com/feed/", Tier: 3},
		{Name: "The Verge", URL: "https://www.theverge.com/rss/index.xml", Tier: 3},
		{Name: "Ars Technica", URL: "https://feeds.arstechnica.com/arstechnica/index", Tier: 3},
	}
}

// LoadCatalog reads a JSON feed list from path. An empty path returns the
// default catalog. Entries missing a name or URL are dropped; out-of-range
// tiers are treated as unknown.
func LoadCatalog(path string) ([]Feed, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feeds: read catalog: %w", err)
	}

	var raw []Feed
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("feeds: parse catalog: %w", err)
	}

	catalog := make([]Feed, 0, len(raw))
	for _, f := range raw {
		if f.Name == "" || f.URL == "" {
			continue
		}
		if f.Tier < 0 || f.Tier > 3 {
			f.Tier = 0
		}
		catalog = append(catalog, f)
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("feeds: catalog %s has no usable entries", path)
	}
	return catalog, nil
}

// TierByName builds the source-name lookup the scoring stage uses for its
// authority adjustment.
func TierByName(catalog []Feed) map[string]int {
	m := make(map[string]int, len(catalog))
	for _, f := range catalog {
		m[f.Name] = f.Tier
	}
	return m
}
