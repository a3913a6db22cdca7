package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/newsloom/newsloom/internal/models"
)

// perURLTimeout bounds one article fetch across both routes.
const perURLTimeout = 30 * time.Second

// resolveText gathers this cycle's working set of clusters and makes sure
// each one's strongest members have usable full text. The working set is the
// clusters that gained members this cycle plus every active cluster still
// carrying unconsumed members, so work deferred by an earlier cycle, a
// failed synthesis or a suppressed update, comes back without needing fresh
// arrivals.
func (p *Pipeline) resolveText(ctx context.Context, run *cycleRun, touched []int64) []*clusterWork {
	ids := touched
	seen := make(map[int64]bool, len(touched))
	for _, id := range touched {
		seen[id] = true
	}
	pending, err := p.items.ListPendingClusterIDs(ctx)
	if err != nil {
		p.log.Warn("fulltext: list pending clusters failed", "err", err)
		run.addError(err)
	}
	for _, id := range pending {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	works := make([]*clusterWork, 0, len(ids))
	for _, id := range ids {
		cluster, err := p.clusters.GetByID(ctx, id)
		if err != nil {
			p.log.Warn("fulltext: load cluster failed", "cluster_id", id, "err", err)
			run.addError(err)
			continue
		}
		items, err := p.items.ListByCluster(ctx, id)
		if err != nil {
			p.log.Warn("fulltext: load members failed", "cluster_id", id, "err", err)
			run.addError(err)
			continue
		}
		w := &clusterWork{cluster: cluster, items: items}
		for i := range items {
			if items[i].Consumed {
				continue
			}
			w.newMembers++
			if s := scoreOf(&items[i]); s > w.topNewScore {
				w.topNewScore = s
			}
		}
		works = append(works, w)
	}
	run.cycle.ClustersAffected = len(works)
	p.log.Info("fulltext: starting", "clusters", len(works))

	sem := make(chan struct{}, p.cfg.FetchWorkers)
	for _, w := range works {
		if ctx.Err() != nil || run.softExpired() {
			break
		}
		p.fetchClusterText(ctx, sem, w)
	}
	return works
}

// fetchClusterText runs the fetch pass for one cluster's members and updates
// the in-memory copies alongside the store. Members are ordered strongest
// first, so the per-cluster URL budget goes to the sources worth reading.
func (p *Pipeline) fetchClusterText(ctx context.Context, sem chan struct{}, w *clusterWork) {
	var wg sync.WaitGroup
	dispatched := 0
	for i := range w.items {
		if ctx.Err() != nil || dispatched >= p.cfg.FetchBudget {
			break
		}
		it := &w.items[i]
		if it.FullText != "" {
			continue
		}
		dispatched++
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			p.fetchItemText(ctx, it)
		}()
	}
	wg.Wait()
}

// fetchItemText resolves one member's text and persists the outcome.
func (p *Pipeline) fetchItemText(ctx context.Context, it *models.SourceItem) {
	fctx, cancel := context.WithTimeout(ctx, perURLTimeout)
	defer cancel()

	res, err := p.fetcher.Fetch(fctx, it.URL)
	if err != nil || len(res.Text) < p.fetcher.MinLength() {
		if err != nil {
			p.log.Warn("fulltext: fetch failed", "url", it.URL, "err", err)
		}
		// Thin or absent text: the feed description has to carry the item.
		if serr := p.items.SetFullText(ctx, it.ID, it.Description, true); serr != nil {
			p.log.Warn("fulltext: persist failed", "item_id", it.ID, "err", serr)
			return
		}
		it.FullText = it.Description
		it.LowText = true
		return
	}

	if err := p.items.SetFullText(ctx, it.ID, res.Text, false); err != nil {
		p.log.Warn("fulltext: persist failed", "item_id", it.ID, "err", err)
		return
	}
	it.FullText = res.Text
	it.LowText = false
	p.log.Debug("fulltext: resolved", "item_id", it.ID, "method", res.Method, "chars", len(res.Text))

	if p.archive != nil && p.archive.Configured() {
		if err := p.archive.StoreSnapshot(ctx, it.ID, it.URL, res.Method, res.ContentType, []byte(res.Text)); err != nil {
			p.log.Warn("fulltext: snapshot failed", "item_id", it.ID, "err", err)
		}
	}
}
