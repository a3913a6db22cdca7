package pipeline

import (
	"context"
	"sync"

	"github.com/newsloom/newsloom/internal/ai"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
)

// Source packaging limits for the synthesis prompt.
const (
	maxSynthSources    = 10
	maxSourceChars     = 1500
	minPackagedSources = 2
)

// synthesize produces the dual-register draft for every cluster headed for a
// publish. Drafting is the expensive call of the cycle, so it runs under its
// own budget and only for clusters the publish plan kept. A cluster whose
// draft cannot be produced is postponed, not lost; its members stay
// unconsumed.
func (p *Pipeline) synthesize(ctx context.Context, run *cycleRun, works []*clusterWork) {
	pending := 0
	for _, w := range works {
		if w.actionable() {
			pending++
		}
	}
	if pending == 0 {
		return
	}
	p.log.Info("synthesize: starting", "clusters", pending)

	budget := reliability.NewBudget("synthesis", p.cfg.SynthBudget, 0)

	sem := make(chan struct{}, p.cfg.ComponentWorkers)
	var wg sync.WaitGroup
	for _, w := range works {
		if !w.actionable() {
			continue
		}
		if ctx.Err() != nil || run.softExpired() {
			w.postpone("cycle deadline")
			continue
		}
		sources := packageSources(w.items)
		if len(sources) == 0 {
			w.postpone("no members with usable text")
			p.log.Warn("synthesize: no usable text", "cluster_id", w.cluster.ID)
			continue
		}
		if err := budget.Take(); err != nil {
			w.postpone("synthesis budget exhausted")
			run.addError(err)
			continue
		}

		wg.Add(1)
		go func(w *clusterWork, sources []ai.SourcePackage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var draft ai.Draft
			err := p.synthPolicy.Do(ctx, p.log, func() error {
				d, err := p.synth.Synthesize(ctx, sources)
				if err != nil {
					return err
				}
				draft = d
				return nil
			})
			if err != nil {
				w.postpone("synthesis failed")
				run.addError(err)
				p.log.Warn("synthesize: cluster failed", "cluster_id", w.cluster.ID, "err", err)
				return
			}
			w.draft = &draft
			p.log.Debug("synthesize: drafted", "cluster_id", w.cluster.ID, "sources", len(sources))
		}(w, sources)
	}
	wg.Wait()
}

// packageSources prepares cluster members for the synthesis prompt: strongest
// sources first, capped in count and per-source length. Members whose text is
// only their feed description join when needed to reach the minimum spread of
// sources; a cluster with no properly resolved text packages nothing.
func packageSources(items []models.SourceItem) []ai.SourcePackage {
	var full, thin []models.SourceItem
	for _, it := range items {
		switch {
		case it.FullText == "":
		case it.LowText:
			thin = append(thin, it)
		default:
			full = append(full, it)
		}
	}
	if len(full) == 0 {
		return nil
	}

	selected := full
	if len(selected) > maxSynthSources {
		selected = selected[:maxSynthSources]
	}
	for _, it := range thin {
		if len(selected) >= minPackagedSources {
			break
		}
		selected = append(selected, it)
	}

	packages := make([]ai.SourcePackage, len(selected))
	for i, it := range selected {
		packages[i] = ai.SourcePackage{
			Publisher:   it.Source,
			Title:       it.Title,
			PublishedAt: it.PublishedAt,
			Text:        truncate(it.FullText, maxSourceChars),
		}
	}
	return packages
}
