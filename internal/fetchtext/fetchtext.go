// Package fetchtext resolves the full article text behind an item URL. A
// hosted reader service is the primary route; a direct page scrape is the
// fallback when the service is absent, failing, or comes back thin.
package fetchtext

import (
	"context"
	"fmt"
	"log/slog"
)

// Fetch methods recorded on results.
const (
	MethodPrimary  = "primary"
	MethodFallback = "fallback"
)

// DefaultMinTextLength is the acceptance bar for extracted text, in bytes.
const DefaultMinTextLength = 400

// Result is one resolved fetch.
type Result struct {
	Text        string
	Method      string
	ContentType string
}

// Fetcher tries the reader service first and the scraper second, keeping
// whichever route produced acceptable or at least longer text.
type Fetcher struct {
	reader  *ReaderClient
	scraper *Scraper
	minLen  int
	log     *slog.Logger
}

// NewFetcher wires the two routes. reader may be nil when no service is
// configured; the scraper then carries everything.
func NewFetcher(reader *ReaderClient, scraper *Scraper, minLen int, log *slog.Logger) *Fetcher {
	if minLen <= 0 {
		minLen = DefaultMinTextLength
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{reader: reader, scraper: scraper, minLen: minLen, log: log}
}

// MinLength exposes the acceptance bar so the caller can flag thin items.
func (f *Fetcher) MinLength() int { return f.minLen }

// Fetch returns the best text either route could get. The result can be
// shorter than MinLength; deciding what to do with thin text is the
// caller's call. The error is non-nil only when every route failed outright.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Result, error) {
	var best Result
	if f.reader != nil {
		res, err := f.reader.Extract(ctx, url)
		if err == nil {
			if len(res.Text) >= f.minLen {
				return res, nil
			}
			best = res
		} else {
			f.log.Debug("fetchtext: reader failed", "url", url, "err", err)
		}
	}

	res, err := f.scraper.Extract(ctx, url)
	if err != nil {
		if best.Text != "" {
			return best, nil
		}
		return Result{}, fmt.Errorf("fetchtext: %s: %w", url, err)
	}
	if len(res.Text) > len(best.Text) {
		return res, nil
	}
	return best, nil
}
