package fetchtext

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// Scraper is the fallback extractor: fetch the page with a rate-limited
// collector and pull the main content out of the HTML.
type Scraper struct {
	userAgent string
}

func NewScraper() *Scraper {
	return &Scraper{userAgent: "newsloom/1.0"}
}

// newCollector builds a fresh collector per fetch to avoid state leakage
// between pages.
func (s *Scraper) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
	)

	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       time.Second,
		RandomDelay: 500 * time.Millisecond,
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	return c
}

// contentSelectors are tried in order; the first non-empty match wins.
var contentSelectors = []string{
	"article",
	".post-content",
	".entry-content",
	".article-body",
	".story-body",
	"main",
}

// Extract fetches pageURL and returns the readable article text.
func (s *Scraper) Extract(ctx context.Context, pageURL string) (Result, error) {
	c := s.newCollector()

	var (
		mu          sync.Mutex
		rawHTML     []byte
		contentType string
		scrErr      error
	)

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		rawHTML = r.Body
		contentType = r.Headers.Get("Content-Type")
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		scrErr = fmt.Errorf("scrape: fetch %s: %w", pageURL, err)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Visit(pageURL); err != nil {
			mu.Lock()
			if scrErr == nil {
				scrErr = fmt.Errorf("scrape: visit %s: %w", pageURL, err)
			}
			mu.Unlock()
		}
		c.Wait()
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-done:
	}

	if scrErr != nil {
		return Result{}, scrErr
	}
	if len(rawHTML) == 0 {
		return Result{}, fmt.Errorf("scrape: empty response from %s", pageURL)
	}

	text, err := extractText(rawHTML)
	if err != nil {
		return Result{}, fmt.Errorf("scrape: parse %s: %w", pageURL, err)
	}
	return Result{Text: text, Method: MethodFallback, ContentType: contentType}, nil
}

// extractText pulls readable article text out of raw HTML: boilerplate
// elements dropped, the first matching content region preferred, body text
// as a last resort.
func extractText(rawHTML []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, header, footer, aside, noscript, form, iframe").Remove()

	var content string
	for _, selector := range contentSelectors {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			content = text
			break
		}
	}
	if content == "" {
		content = strings.TrimSpace(doc.Find("body").Text())
	}
	return collapseWhitespace(content), nil
}

// collapseWhitespace squeezes the space runs and blank lines that markup
// removal leaves behind.
func collapseWhitespace(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
