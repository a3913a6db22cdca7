package pipeline

import (
	"github.com/newsloom/newsloom/internal/images"
	"github.com/newsloom/newsloom/internal/models"
)

// selectImages picks the representative image for every cluster still headed
// for a publish this cycle. No model calls; the picker works off what the
// feeds declared.
func (p *Pipeline) selectImages(works []*clusterWork) {
	for _, w := range works {
		if !w.actionable() {
			continue
		}
		sel := images.Pick(itemRefs(w.items), p.tiers)
		if sel == nil {
			p.log.Debug("image: no candidate", "cluster_id", w.cluster.ID)
			continue
		}
		w.image = sel
		p.log.Debug("image: selected", "cluster_id", w.cluster.ID, "url", sel.URL, "points", sel.Points)
	}
}

func itemRefs(items []models.SourceItem) []*models.SourceItem {
	refs := make([]*models.SourceItem, len(items))
	for i := range items {
		refs[i] = &items[i]
	}
	return refs
}
