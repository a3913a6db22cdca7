package pipeline

import (
	"context"
	"sync"

	"github.com/newsloom/newsloom/internal/ai"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
	"github.com/newsloom/newsloom/internal/research"
)

// generateComponents selects, researches, and renders the visual components
// for every drafted article. A component whose payload cannot be produced is
// dropped; an article that loses every component is postponed, because a
// published article always carries at least one.
func (p *Pipeline) generateComponents(ctx context.Context, run *cycleRun, works []*clusterWork) {
	pending := 0
	for _, w := range works {
		if w.actionable() && w.draft != nil {
			pending++
		}
	}
	if pending == 0 {
		return
	}
	p.log.Info("components: starting", "articles", pending)

	budget := reliability.NewBudget("components", p.cfg.ComponentBudget, 0)

	sem := make(chan struct{}, p.cfg.ComponentWorkers)
	var wg sync.WaitGroup
	for _, w := range works {
		if !w.actionable() || w.draft == nil {
			continue
		}
		if ctx.Err() != nil || run.softExpired() {
			w.postpone("cycle deadline")
			continue
		}
		wg.Add(1)
		go func(w *clusterWork) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			p.buildComponents(ctx, run, budget, w)
		}(w)
	}
	wg.Wait()
}

// buildComponents runs the three component steps for one article.
func (p *Pipeline) buildComponents(ctx context.Context, run *cycleRun, budget *reliability.Budget, w *clusterWork) {
	sel := p.selectFor(ctx, budget, w)
	w.components = sel.Components
	w.emoji = sel.Emoji
	w.chartSubtype = sel.ChartSubtype

	bundle := p.researchFor(ctx, w, sel.Components)

	// Render the selected components in parallel; payload fields are
	// disjoint per component, only the kept set needs guarding.
	var mu sync.Mutex
	kept := make(map[string]bool, len(sel.Components))
	var rwg sync.WaitGroup
	for _, comp := range sel.Components {
		rwg.Add(1)
		go func(comp string) {
			defer rwg.Done()
			if p.renderComponent(ctx, budget, w, comp, bundle) {
				mu.Lock()
				kept[comp] = true
				mu.Unlock()
			}
		}(comp)
	}
	rwg.Wait()

	ordered := make([]string, 0, len(sel.Components))
	for _, comp := range sel.Components {
		if kept[comp] {
			ordered = append(ordered, comp)
		}
	}
	if len(ordered) == 0 {
		w.postpone("all components failed")
		run.addError(reliability.SkippedError("components", nil))
		p.log.Warn("components: every component failed", "cluster_id", w.cluster.ID)
		return
	}
	w.components = ordered
	p.log.Debug("components: built", "cluster_id", w.cluster.ID, "components", ordered)
}

// selectFor asks the model which components suit the article. Selection
// failure is not worth postponing the article over; the stage falls back to
// the default pair.
func (p *Pipeline) selectFor(ctx context.Context, budget *reliability.Budget, w *clusterWork) ai.Selection {
	var sel ai.Selection
	err := p.componentPolicy.Do(ctx, p.log, func() error {
		if err := budget.Take(); err != nil {
			return err
		}
		s, err := p.selector.SelectComponents(ctx, w.draft.TitlePro, w.draft.BodyPro)
		if err != nil {
			return err
		}
		sel = s
		return nil
	})
	if err != nil {
		p.log.Warn("components: selection failed, using fallback", "cluster_id", w.cluster.ID, "err", err)
		return ai.Selection{Components: ai.FallbackComponents()}
	}
	sel.Components = ai.FilterComponents(sel.Components)
	if len(sel.Components) == 0 {
		sel.Components = ai.FallbackComponents()
	}
	return sel
}

// researchFor gathers the fact bundle backing the selected components. The
// bundle is enrichment: with no provider configured, or nothing usable
// coming back, rendering proceeds on the article text alone.
func (p *Pipeline) researchFor(ctx context.Context, w *clusterWork, components []string) *research.Bundle {
	if p.research == nil {
		return nil
	}
	req := research.Request{
		Title:       w.draft.TitlePro,
		BodyExcerpt: w.draft.BodyPro,
		Components:  components,
	}
	var bundle *research.Bundle
	err := p.componentPolicy.Do(ctx, p.log, func() error {
		b, err := p.research.Research(ctx, req)
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})
	if err != nil {
		p.log.Warn("components: research failed", "cluster_id", w.cluster.ID, "err", err)
		return nil
	}
	return bundle
}

// renderComponent produces one component's payload. Reports whether the
// component survives.
func (p *Pipeline) renderComponent(ctx context.Context, budget *reliability.Budget, w *clusterWork, component string, bundle *research.Bundle) bool {
	article := w.draft.TitlePro + "\n\n" + w.draft.BodyPro

	err := p.componentPolicy.Do(ctx, p.log, func() error {
		if err := budget.Take(); err != nil {
			return err
		}
		switch component {
		case models.ComponentTimeline:
			var seed []models.TimelineEntry
			if bundle != nil {
				seed = bundle.Timeline
			}
			entries, err := p.renderer.RenderTimeline(ctx, article, seed)
			if err != nil {
				return err
			}
			w.timeline = entries
		case models.ComponentDetails:
			var seed []string
			if bundle != nil {
				seed = bundle.Details
			}
			details, err := p.renderer.RenderDetails(ctx, article, seed)
			if err != nil {
				return err
			}
			w.details = details
		case models.ComponentChart:
			var seed *models.ChartPayload
			if bundle != nil {
				seed = bundle.Chart
			}
			chart, err := p.renderer.RenderChart(ctx, article, seed, w.chartSubtype)
			if err != nil {
				return err
			}
			w.chart = chart
		}
		return nil
	})
	if err != nil {
		p.log.Warn("components: render failed, dropping component",
			"cluster_id", w.cluster.ID, "component", component, "err", err)
		return false
	}
	return true
}
