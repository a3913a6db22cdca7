package pipeline

import (
	"context"
	"time"

	"github.com/newsloom/newsloom/internal/clusterer"
	"github.com/newsloom/newsloom/internal/models"
)

// eventLabelMax caps the cluster label taken from the founding item's title.
const eventLabelMax = 80

// clusterItems attaches each approved, unclustered item to the best matching
// active cluster or starts a new one. Stale clusters are closed first so
// they stop attracting members. Returns the ids of clusters gaining members
// this cycle.
func (p *Pipeline) clusterItems(ctx context.Context, run *cycleRun) []int64 {
	closed, err := p.clusters.CloseStale(ctx, p.cluster.Inactivity, p.cluster.MaxAge)
	if err != nil {
		p.log.Warn("cluster: close stale failed", "err", err)
		run.addError(err)
	} else if closed > 0 {
		p.log.Info("cluster: closed stale clusters", "count", closed)
	}

	items, err := p.items.ListUnclustered(ctx)
	if err != nil {
		p.log.Error("cluster: list unclustered failed", "err", err)
		run.addError(err)
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	p.log.Info("cluster: starting", "items", len(items))

	active, err := p.clusters.ListActive(ctx, p.cluster.Window)
	if err != nil {
		p.log.Error("cluster: list active failed", "err", err)
		run.addError(err)
		return nil
	}

	candidates := make([]clusterer.Candidate, len(active))
	for i, c := range active {
		candidates[i] = clusterer.Candidate{
			ID:            c.ID,
			Label:         c.EventLabel,
			Keywords:      c.Keywords,
			Entities:      c.Entities,
			LastUpdatedAt: c.LastUpdatedAt,
		}
	}

	matcher := clusterer.NewMatcher(p.cluster.MatchThreshold)
	seen := make(map[int64]bool)
	var touched []int64
	touch := func(id int64) {
		if !seen[id] {
			seen[id] = true
			touched = append(touched, id)
		}
	}

	for i := range items {
		if ctx.Err() != nil || run.softExpired() {
			break
		}
		it := &items[i]
		sig := clusterer.Extract(it.Title, it.Description)
		score := scoreOf(it)

		best, sim := matcher.Best(sig, candidates)
		if best == nil {
			id, ok := p.startCluster(ctx, it, sig, score)
			if !ok {
				continue
			}
			// New clusters join the candidate pool so the rest of this
			// batch can match them.
			candidates = append(candidates, clusterer.Candidate{
				ID:            id,
				Label:         it.Title,
				Keywords:      sig.Keywords,
				Entities:      sig.Entities,
				LastUpdatedAt: time.Now(),
			})
			touch(id)
			continue
		}

		ok, err := p.items.AttachToCluster(ctx, it.ID, best.ID)
		if err != nil {
			p.log.Warn("cluster: attach failed", "item_id", it.ID, "cluster_id", best.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		mergedKw := clusterer.Union(best.Keywords, sig.Keywords)
		mergedEnt := clusterer.Union(best.Entities, sig.Entities)
		if err := p.clusters.Absorb(ctx, best.ID, mergedKw, mergedEnt, score); err != nil {
			p.log.Warn("cluster: absorb failed", "cluster_id", best.ID, "err", err)
		}
		// Grow the in-memory signature too, so later items in this batch
		// see the cluster as it now is.
		best.Keywords = mergedKw
		best.Entities = mergedEnt
		best.LastUpdatedAt = time.Now()
		touch(best.ID)
		p.log.Debug("cluster: item joined", "item_id", it.ID, "cluster_id", best.ID, "similarity", sim)
	}

	p.log.Info("cluster: complete", "clusters_touched", len(touched))
	return touched
}

// startCluster opens a new cluster seeded by one item and attaches the item.
func (p *Pipeline) startCluster(ctx context.Context, it *models.SourceItem, sig clusterer.Signature, score int) (int64, bool) {
	c := &models.Cluster{
		EventLabel:  truncate(it.Title, eventLabelMax),
		Keywords:    sig.Keywords,
		Entities:    sig.Entities,
		Category:    it.Category,
		SourceCount: 1,
		TopScore:    score,
	}
	if err := p.clusters.Create(ctx, c); err != nil {
		p.log.Warn("cluster: create failed", "item_id", it.ID, "err", err)
		return 0, false
	}
	ok, err := p.items.AttachToCluster(ctx, it.ID, c.ID)
	if err != nil || !ok {
		p.log.Warn("cluster: seed attach failed", "item_id", it.ID, "cluster_id", c.ID, "err", err)
		return 0, false
	}
	p.log.Debug("cluster: new cluster", "cluster_id", c.ID, "label", c.EventLabel)
	return c.ID, true
}
