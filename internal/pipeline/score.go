package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/newsloom/newsloom/internal/ai"
	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
)

// scoreExcerptLen caps how much of the feed description goes into the
// scoring prompt.
const scoreExcerptLen = 500

// score rates every unscored item that carries an image and approves what
// clears the threshold. Items the model cannot rate this cycle stay
// unscored and come back next cycle; the breaker stops the bleeding when
// the provider is down.
func (p *Pipeline) score(ctx context.Context, run *cycleRun) {
	items, err := p.items.ListUnscored(ctx, 0)
	if err != nil {
		p.log.Error("score: list unscored failed", "err", err)
		run.addError(err)
		return
	}
	if len(items) == 0 {
		return
	}
	p.log.Info("score: starting", "items", len(items))

	budget := reliability.NewBudget("score", p.cfg.ScoreBudget, 0)

	var scored, approved atomic.Int32
	sem := make(chan struct{}, p.cfg.ScoreWorkers)
	var wg sync.WaitGroup

	for i := range items {
		if ctx.Err() != nil || run.softExpired() {
			break
		}
		if !p.breaker.Allow() {
			p.log.Warn("score: breaker open, deferring remaining items", "remaining", len(items)-i)
			break
		}
		if err := budget.Take(); err != nil {
			p.log.Warn("score: call budget exhausted", "remaining", len(items)-i)
			run.addError(err)
			break
		}

		it := items[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Recheck: the breaker may have opened after dispatch.
			if !p.breaker.Allow() {
				return
			}
			res, err := p.scoreItem(ctx, it)
			if err != nil {
				p.breaker.Failure()
				p.log.Warn("score: item failed", "item_id", it.ID, "source", it.Source, "err", err)
				return
			}
			p.breaker.Success()

			final := p.adjustScore(res.Score, it.Source)
			ok := final >= p.cfg.ApproveThreshold && it.ImageURL != ""
			if err := p.items.SetScore(ctx, it.ID, final, res.Category, res.Emoji, ok); err != nil {
				p.log.Warn("score: persist failed", "item_id", it.ID, "err", err)
				return
			}
			scored.Add(1)
			if ok {
				approved.Add(1)
			}
		}()
	}
	wg.Wait()

	run.cycle.ItemsScored = int(scored.Load())
	run.cycle.ItemsApproved = int(approved.Load())
	p.log.Info("score: complete", "scored", run.cycle.ItemsScored, "approved", run.cycle.ItemsApproved)
}

// scoreItem asks the model for a verdict on one item, with retries.
func (p *Pipeline) scoreItem(ctx context.Context, it models.SourceItem) (ai.ScoreResult, error) {
	in := ai.ScoreInput{
		Title:   it.Title,
		Source:  it.Source,
		Excerpt: truncate(it.Description, scoreExcerptLen),
	}
	var res ai.ScoreResult
	err := p.scorePolicy.Do(ctx, p.log, func() error {
		r, err := p.scorer.ScoreItem(ctx, in)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

// adjustScore folds the source tier into the model score. Stronger outlets
// get a nudge up, weaker ones down, clamped to the scoring scale.
func (p *Pipeline) adjustScore(raw int, source string) int {
	adjusted := raw + (feeds.TierScore(p.tiers[source])-5)*8
	if adjusted < 0 {
		return 0
	}
	if adjusted > 1000 {
		return 1000
	}
	return adjusted
}
