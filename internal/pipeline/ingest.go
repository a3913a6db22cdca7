package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/normalize"
)

// Ingest gates on item timestamps. Anything older than maxItemAge is
// archive backfill, anything further ahead than maxFutureSkew is a broken
// feed clock.
const (
	maxItemAge    = 14 * 24 * time.Hour
	maxFutureSkew = 2 * time.Hour
)

// noiseTitlePatterns match feed entries that are not reportable news:
// rolling live pages, listicles, astrology, sponsored placements.
var noiseTitlePatterns = []string{
	"live updates",
	"live blog",
	"as it happened",
	"horoscope",
	"quiz of the",
	"crossword",
	"wordle",
	"sponsored",
	"advertis",
	"deal of the day",
	"best deals",
	"promo code",
	"coupon",
}

func isNoiseTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, pat := range noiseTitlePatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// ingest polls every feed in the catalog with bounded fan-out and persists
// the entries that survive canonicalisation, the timestamp gates, and dedup.
// A failing feed costs nothing but its own entries.
func (p *Pipeline) ingest(ctx context.Context, run *cycleRun) {
	p.log.Info("ingest: starting", "feeds", len(p.catalog))

	var polled, created atomic.Int32
	sem := make(chan struct{}, p.cfg.IngestWorkers)
	var wg sync.WaitGroup

	for _, feed := range p.catalog {
		if ctx.Err() != nil || run.softExpired() {
			break
		}
		wg.Add(1)
		go func(feed feeds.Feed) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			polled.Add(1)
			n, err := p.ingestFeed(ctx, feed)
			if err != nil {
				p.log.Warn("ingest: feed failed", "feed", feed.Name, "err", err)
				return
			}
			created.Add(int32(n))
		}(feed)
	}
	wg.Wait()

	run.cycle.FeedsPolled = int(polled.Load())
	run.cycle.ItemsNew = int(created.Load())
	p.log.Info("ingest: complete", "feeds_polled", run.cycle.FeedsPolled, "items_new", run.cycle.ItemsNew)
}

// ingestFeed polls one feed and stores its new items. Returns how many rows
// were created.
func (p *Pipeline) ingestFeed(ctx context.Context, feed feeds.Feed) (int, error) {
	raws, err := p.poller.Poll(ctx, feed)
	if err != nil {
		return 0, err
	}

	created := 0
	now := time.Now().UTC()
	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		item, ok := p.buildItem(raw, now)
		if !ok {
			continue
		}

		exists, err := p.items.Exists(ctx, item.URL, item.Source, item.GUID, item.Fingerprint)
		if err != nil {
			p.log.Warn("ingest: dedup check failed", "url", item.URL, "err", err)
			continue
		}
		if exists {
			continue
		}
		if err := p.items.Create(ctx, item); err != nil {
			// Raced another worker on the same story.
			if models.IsDuplicate(err) {
				continue
			}
			p.log.Warn("ingest: create failed", "url", item.URL, "err", err)
			continue
		}
		created++
	}
	return created, nil
}

// buildItem canonicalises one raw entry into a SourceItem, or rejects it.
func (p *Pipeline) buildItem(raw feeds.RawItem, now time.Time) (*models.SourceItem, bool) {
	title := strings.TrimSpace(raw.Title)
	link := normalize.CanonicalizeURL(raw.Link)
	if title == "" || link == "" {
		return nil, false
	}
	if isNoiseTitle(title) {
		return nil, false
	}

	published := raw.Published
	if published.IsZero() {
		// Unparseable or missing date: treat the entry as fresh.
		published = now
	}
	if published.Before(now.Add(-maxItemAge)) || published.After(now.Add(maxFutureSkew)) {
		return nil, false
	}

	return &models.SourceItem{
		URL:         link,
		GUID:        raw.GUID,
		Source:      raw.Feed.Name,
		Title:       title,
		Description: normalize.CleanText(raw.Description),
		ImageURL:    normalize.NormalizeImageURL(raw.ImageURL, link),
		ImageWidth:  raw.ImageWidth,
		ImageHeight: raw.ImageHeight,
		Author:      raw.Author,
		PublishedAt: published,
		Fingerprint: normalize.Fingerprint(title, raw.Feed.Name),
	}, true
}
