package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const pollUserAgent = "newsloom/1.0 (+https://github.com/newsloom/newsloom)"

// RawItem is one feed entry as parsed, before canonicalization and dedup.
type RawItem struct {
	Feed        Feed
	Title       string
	Link        string
	GUID        string
	Author      string
	Description string
	Published   time.Time
	ImageURL    string
	ImageWidth  int
	ImageHeight int
}

// State tracks the health of one feed across polls.
type State struct {
	LastPolled          time.Time `json:"last_polled"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ItemsLastPoll       int       `json:"items_last_poll"`
}

// Poller fetches and parses publisher feeds. One Poller is shared by all
// ingest workers; gofeed parsing is call-local so concurrent Poll calls are
// fine.
type Poller struct {
	parser  *gofeed.Parser
	timeout time.Duration

	mu    sync.Mutex
	state map[string]*State // keyed by feed URL
}

// NewPoller creates a Poller with the given per-feed timeout.
func NewPoller(timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	parser := gofeed.NewParser()
	parser.UserAgent = pollUserAgent
	parser.Client = &http.Client{Timeout: timeout}
	return &Poller{
		parser:  parser,
		timeout: timeout,
		state:   make(map[string]*State),
	}
}

// Poll fetches one feed and returns its entries. Feed-level failures are
// recorded in the per-feed state and returned to the caller.
func (p *Poller) Poll(ctx context.Context, feed Feed) ([]RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parsed, err := p.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		p.record(feed.URL, 0, err)
		return nil, fmt.Errorf("feeds: poll %s: %w", feed.Name, err)
	}

	items := make([]RawItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		raw := RawItem{
			Feed:        feed,
			Title:       strings.TrimSpace(entry.Title),
			Link:        strings.TrimSpace(entry.Link),
			GUID:        strings.TrimSpace(entry.GUID),
			Author:      entryAuthor(entry),
			Description: strings.TrimSpace(entry.Description),
			Published:   entryPublished(entry),
		}
		raw.ImageURL, raw.ImageWidth, raw.ImageHeight = extractImage(entry)
		if raw.GUID == "" {
			raw.GUID = raw.Link
		}
		items = append(items, raw)
	}

	p.record(feed.URL, len(items), nil)
	return items, nil
}

// States returns a snapshot of per-feed health for the ops server.
func (p *Poller) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.state))
	for url, st := range p.state {
		out[url] = *st
	}
	return out
}

func (p *Poller) record(url string, items int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[url]
	if !ok {
		st = &State{}
		p.state[url] = st
	}
	st.LastPolled = time.Now().UTC()
	if err != nil {
		st.LastError = err.Error()
		st.ConsecutiveFailures++
		return
	}
	st.LastSuccess = st.LastPolled
	st.LastError = ""
	st.ConsecutiveFailures = 0
	st.ItemsLastPoll = items
}

// entryAuthor pulls the first author name present on the entry.
func entryAuthor(entry *gofeed.Item) string {
	if entry.Author != nil && entry.Author.Name != "" {
		return strings.TrimSpace(entry.Author.Name)
	}
	for _, a := range entry.Authors {
		if a != nil && a.Name != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return ""
}

// entryPublished prefers the published date, falls back to updated, and
// reports zero when the feed gave nothing parseable. Ingest substitutes the
// fetch time for zero.
func entryPublished(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	return time.Time{}
}

// extractImage finds an image candidate for the entry, checking in order:
// media:content, media:thumbnail, enclosures with an image type, and finally
// the first <img> in the description HTML. Width and height come back when
// the markup declared them.
func extractImage(entry *gofeed.Item) (string, int, int) {
	if media, ok := entry.Extensions["media"]; ok {
		for _, e := range media["content"] {
			url := e.Attrs["url"]
			if url == "" || !mediaIsImage(e.Attrs) {
				continue
			}
			return url, atoiOr(e.Attrs["width"]), atoiOr(e.Attrs["height"])
		}
		for _, e := range media["thumbnail"] {
			if url := e.Attrs["url"]; url != "" {
				return url, atoiOr(e.Attrs["width"]), atoiOr(e.Attrs["height"])
			}
		}
	}

	for _, enc := range entry.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL, 0, 0
		}
	}

	if entry.Description != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(entry.Description)); err == nil {
			if src, ok := doc.Find("img[src]").First().Attr("src"); ok {
				if src = strings.TrimSpace(src); src != "" {
					return src, 0, 0
				}
			}
		}
	}

	return "", 0, 0
}

// mediaIsImage accepts media:content entries that are declared images or
// leave the type unstated.
func mediaIsImage(attrs map[string]string) bool {
	if t := attrs["type"]; t != "" {
		return strings.HasPrefix(t, "image/")
	}
	if m := attrs["medium"]; m != "" {
		return m == "image"
	}
	return true
}

func atoiOr(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
