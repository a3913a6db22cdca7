package pipeline

import (
	"context"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/newsloom/newsloom/internal/models"
)

// Publish policy knobs.
const (
	// highScoreTrigger republishes when a new member scores at least this.
	highScoreTrigger = 850
	// volumeTrigger republishes when this many members arrived since the
	// last publish.
	volumeTrigger = 2
	// updateCooldown is the per-cluster wall-clock floor between publishes.
	updateCooldown = 30 * time.Minute
)

// planPublish decides, per affected cluster, whether this cycle inserts its
// first article, republishes under an update trigger, or leaves it alone.
// The plan comes before the model stages so drafting money is only spent on
// clusters that will actually publish.
func (p *Pipeline) planPublish(ctx context.Context, run *cycleRun, works []*clusterWork) {
	for _, w := range works {
		existing, err := p.published.GetByCluster(ctx, w.cluster.ID)
		if err != nil {
			p.log.Warn("publish: plan lookup failed", "cluster_id", w.cluster.ID, "err", err)
			run.addError(err)
			w.action = actionSkip
			continue
		}
		if existing == nil {
			w.action = actionInsert
			w.trigger = models.TriggerInitial
			continue
		}
		w.existing = existing

		switch {
		case w.topNewScore >= highScoreTrigger:
			w.trigger = models.TriggerHighScore
		case w.newMembers >= volumeTrigger:
			w.trigger = models.TriggerVolume
		default:
			w.action = actionSkip
			continue
		}
		if time.Since(existing.UpdatedAt) < updateCooldown {
			p.log.Info("publish: update suppressed by cooldown",
				"cluster_id", w.cluster.ID, "trigger", w.trigger,
				"published_ago", time.Since(existing.UpdatedAt).Round(time.Second))
			w.action = actionSkip
			w.trigger = ""
			continue
		}
		w.action = actionUpdate
	}
}

// publish writes the planned inserts and updates, strongest stories first,
// and consumes the members of everything that landed.
func (p *Pipeline) publish(ctx context.Context, run *cycleRun, works []*clusterWork) {
	var ready []*clusterWork
	for _, w := range works {
		if w.actionable() && w.draft != nil {
			w.score = clusterScore(w.items)
			ready = append(ready, w)
		}
	}
	if len(ready) == 0 {
		return
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].score > ready[j].score })
	p.log.Info("publish: starting", "articles", len(ready))

	published := 0
	for _, w := range ready {
		if ctx.Err() != nil {
			break
		}
		if err := p.publishCluster(ctx, w); err != nil {
			p.log.Error("publish: cluster failed", "cluster_id", w.cluster.ID, "err", err)
			run.addError(err)
			continue
		}
		published++
	}
	run.cycle.ArticlesPublished = published
	p.log.Info("publish: complete", "published", published)
}

// publishCluster lands one article and consumes its members. Members are
// consumed only after the write succeeds, so a failed write is retried whole
// next cycle.
func (p *Pipeline) publishCluster(ctx context.Context, w *clusterWork) error {
	art := p.buildArticle(w)

	switch w.action {
	case actionInsert:
		if err := p.published.Create(ctx, art); err != nil {
			return err
		}
		if err := p.clusters.SetPublishedArticle(ctx, w.cluster.ID, art.ID); err != nil {
			p.log.Warn("publish: link article failed", "cluster_id", w.cluster.ID, "err", err)
		}
		p.recordUpdate(ctx, &models.ArticleUpdate{
			ArticleID:    art.ID,
			Trigger:      models.TriggerInitial,
			SourcesAdded: art.NumSources,
			PrevVersion:  0,
			NewVersion:   art.Version,
		})
		p.log.Info("publish: article created",
			"cluster_id", w.cluster.ID, "article_id", art.ID, "score", art.AIFinalScore,
			"sources", art.NumSources)

	case actionUpdate:
		if sameContent(w.existing, art) {
			p.log.Info("publish: content unchanged, keeping version",
				"cluster_id", w.cluster.ID, "version", w.existing.Version)
			break
		}
		prev := w.existing.Version
		if err := p.published.Update(ctx, art); err != nil {
			return err
		}
		p.recordUpdate(ctx, &models.ArticleUpdate{
			ArticleID:    art.ID,
			Trigger:      w.trigger,
			SourcesAdded: art.NumSources - w.existing.NumSources,
			PrevVersion:  prev,
			NewVersion:   art.Version,
		})
		p.log.Info("publish: article updated",
			"cluster_id", w.cluster.ID, "article_id", art.ID, "trigger", w.trigger,
			"version", art.Version, "score", art.AIFinalScore)
	}

	ids := make([]uuid.UUID, 0, len(w.items))
	for _, it := range w.items {
		ids = append(ids, it.ID)
	}
	if err := p.items.MarkConsumed(ctx, ids); err != nil {
		p.log.Warn("publish: mark consumed failed", "cluster_id", w.cluster.ID, "err", err)
	}
	return nil
}

// recordUpdate appends to the article update log. Log rows are audit trail,
// not article state; a failed append is not worth failing the publish.
func (p *Pipeline) recordUpdate(ctx context.Context, u *models.ArticleUpdate) {
	if err := p.updates.Record(ctx, u); err != nil {
		p.log.Warn("publish: update log failed", "article_id", u.ArticleID, "trigger", u.Trigger, "err", err)
	}
}

// buildArticle assembles the published row from everything the earlier
// stages produced for the cluster.
func (p *Pipeline) buildArticle(w *clusterWork) *models.PublishedArticle {
	urls := make([]string, 0, len(w.items))
	for _, it := range w.items {
		urls = append(urls, it.URL)
	}

	emoji := w.emoji
	if emoji == "" {
		for _, it := range w.items {
			if it.Emoji != "" {
				emoji = it.Emoji
				break
			}
		}
	}

	art := &models.PublishedArticle{
		ClusterID:     w.cluster.ID,
		TitlePro:      w.draft.TitlePro,
		TitleSimple:   w.draft.TitleSimple,
		BulletsPro:    w.draft.BulletsPro,
		BulletsSimple: w.draft.BulletsSimple,
		BodyPro:       w.draft.BodyPro,
		BodySimple:    w.draft.BodySimple,
		Category:      w.cluster.Category,
		Emoji:         emoji,
		Components:    w.components,
		Timeline:      w.timeline,
		Details:       w.details,
		Chart:         w.chart,
		AIFinalScore:  w.score,
		NumSources:    len(w.items),
		SourceURLs:    urls,
	}
	if w.image != nil {
		art.ImageURL = w.image.URL
		art.ImageAttribution = w.image.Attribution
	}
	if w.existing != nil {
		art.ID = w.existing.ID
		art.Version = w.existing.Version
	}
	return art
}

// clusterScore folds the member average and a volume bonus into the score a
// published article ranks by.
func clusterScore(items []models.SourceItem) int {
	if len(items) == 0 {
		return 0
	}
	sum := 0
	for i := range items {
		sum += scoreOf(&items[i])
	}
	avg := float64(sum) / float64(len(items))
	bonus := math.Min(float64(len(items)*10), 100)
	return int(math.Min(math.Round(avg+bonus), 1000))
}

// sameContent reports whether a regenerated article is identical to the
// published one everywhere readers can tell. When it is, the version stays.
func sameContent(a, b *models.PublishedArticle) bool {
	return a.TitlePro == b.TitlePro &&
		a.TitleSimple == b.TitleSimple &&
		slices.Equal(a.BulletsPro, b.BulletsPro) &&
		slices.Equal(a.BulletsSimple, b.BulletsSimple) &&
		a.BodyPro == b.BodyPro &&
		a.BodySimple == b.BodySimple &&
		a.Category == b.Category &&
		a.Emoji == b.Emoji &&
		a.ImageURL == b.ImageURL &&
		a.ImageAttribution == b.ImageAttribution &&
		slices.Equal(a.Components, b.Components) &&
		slices.Equal(a.Timeline, b.Timeline) &&
		slices.Equal(a.Details, b.Details) &&
		sameChart(a.Chart, b.Chart) &&
		a.AIFinalScore == b.AIFinalScore &&
		a.NumSources == b.NumSources &&
		slices.Equal(a.SourceURLs, b.SourceURLs)
}

func sameChart(a, b *models.ChartPayload) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.XLabel == b.XLabel && a.YLabel == b.YLabel && slices.Equal(a.Points, b.Points)
}
