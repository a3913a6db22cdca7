// Package pipeline runs the cycle that turns raw feed entries into published
// articles: ingest, score, cluster, full-text, image selection, synthesis,
// component generation, publish. One cycle is one Run; stages hand work to
// the next through the store, so a cycle cut short by a deadline leaves
// nothing half-finished, only work deferred to the next tick.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/newsloom/newsloom/internal/ai"
	"github.com/newsloom/newsloom/internal/config"
	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/images"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
	"github.com/newsloom/newsloom/internal/research"
)

// maxCycleErrors caps how many failure strings a cycle row keeps.
const maxCycleErrors = 5

// Deps wires a Pipeline. Items through Cycles, Catalog, Poller, Fetcher,
// Scorer, Synthesizer, Selector and Renderer are required; the rest are
// optional capabilities the pipeline works without.
type Deps struct {
	Config  config.PipelineConfig
	Cluster config.ClusterConfig

	Items     ItemStore
	Clusters  ClusterStore
	Published PublishedStore
	Updates   UpdateLogStore
	Cycles    CycleStore

	Catalog []feeds.Feed
	Poller  FeedPoller
	Fetcher TextFetcher

	Scorer      ai.Scorer
	Synthesizer ai.Synthesizer
	Selector    ai.ComponentSelector
	Renderer    ai.ComponentRenderer

	Research    research.Provider // nil disables fact research
	Archive     SnapshotArchive   // nil disables text snapshots
	TokenSink   TokenBudgeted     // receives the per-cycle token budget
	TokenBudget int

	Logger *slog.Logger
}

// Pipeline executes cycles. Safe for use from a scheduler that may tick
// while a previous cycle is still running; the overlapping tick is skipped.
type Pipeline struct {
	cfg     config.PipelineConfig
	cluster config.ClusterConfig

	items     ItemStore
	clusters  ClusterStore
	published PublishedStore
	updates   UpdateLogStore
	cycles    CycleStore

	catalog []feeds.Feed
	tiers   map[string]int
	poller  FeedPoller
	fetcher TextFetcher

	scorer   ai.Scorer
	synth    ai.Synthesizer
	selector ai.ComponentSelector
	renderer ai.ComponentRenderer

	research    research.Provider
	archive     SnapshotArchive
	tokenSink   TokenBudgeted
	tokenBudget int

	// One retry schedule per capability, fixed at construction.
	scorePolicy     reliability.Policy
	synthPolicy     reliability.Policy
	componentPolicy reliability.Policy

	breaker *reliability.Breaker
	log     *slog.Logger

	mu sync.Mutex
}

// New builds a Pipeline from its dependencies.
func New(d Deps) *Pipeline {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:         d.Config,
		cluster:     d.Cluster,
		items:       d.Items,
		clusters:    d.Clusters,
		published:   d.Published,
		updates:     d.Updates,
		cycles:      d.Cycles,
		catalog:     d.Catalog,
		tiers:       feeds.TierByName(d.Catalog),
		poller:      d.Poller,
		fetcher:     d.Fetcher,
		scorer:      d.Scorer,
		synth:       d.Synthesizer,
		selector:    d.Selector,
		renderer:    d.Renderer,
		research:    d.Research,
		archive:     d.Archive,
		tokenSink:   d.TokenSink,
		tokenBudget: d.TokenBudget,

		scorePolicy:     reliability.DefaultPolicy("score"),
		synthPolicy:     reliability.DefaultPolicy("synthesis"),
		componentPolicy: reliability.DefaultPolicy("components"),

		breaker: reliability.NewBreaker(d.Config.BreakerThreshold, d.Config.BreakerCooldown),
		log:     log,
	}
}

// Breaker exposes the scoring circuit breaker for status reporting.
func (p *Pipeline) Breaker() *reliability.Breaker { return p.breaker }

// cycleRun carries one cycle's bookkeeping across stages.
type cycleRun struct {
	cycle *models.FetchCycle
	soft  time.Time

	mu   sync.Mutex
	errs []string
}

// softExpired reports whether the cycle is past its soft deadline. Stages
// stop starting new work once it is; work in flight finishes.
func (r *cycleRun) softExpired() bool { return time.Now().After(r.soft) }

// addError keeps the first few failure strings for the cycle row.
func (r *cycleRun) addError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) < maxCycleErrors {
		r.errs = append(r.errs, err.Error())
	}
}

func (r *cycleRun) errorText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.errs, "; ")
}

func (r *cycleRun) hasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs) > 0
}

// publishAction is what the publish plan decided for one cluster this cycle.
type publishAction int

const (
	actionSkip publishAction = iota
	actionInsert
	actionUpdate
)

// clusterWork is the per-cluster carrier the later stages fill in. Only one
// worker touches a given clusterWork at a time.
type clusterWork struct {
	cluster     *models.Cluster
	items       []models.SourceItem
	newMembers  int
	topNewScore int

	action   publishAction
	trigger  string
	existing *models.PublishedArticle
	deferred string // non-empty reason defers the cluster to a later cycle

	image        *images.Selection
	draft        *ai.Draft
	emoji        string
	chartSubtype string
	components   []string
	timeline     []models.TimelineEntry
	details      []string
	chart        *models.ChartPayload
	score        int
}

// actionable reports whether the cluster still has a publish decision
// pending this cycle.
func (w *clusterWork) actionable() bool {
	return w.action != actionSkip && w.deferred == ""
}

// postpone records why the cluster is left for a later cycle. Members stay
// unconsumed, so the next cycle picks the cluster up again.
func (w *clusterWork) postpone(reason string) {
	if w.deferred == "" {
		w.deferred = reason
	}
}

// Run executes one full cycle. A tick that fires while the previous cycle is
// still running returns immediately without doing anything. Errors inside a
// cycle are recorded on its fetch_cycles row, not returned; the only error
// Run reports is failing to book the cycle in.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.mu.TryLock() {
		p.log.Warn("cycle: previous cycle still running, skipping tick")
		return nil
	}
	defer p.mu.Unlock()

	cycle, err := p.cycles.Begin(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HardDeadline)
	defer cancel()

	if p.tokenSink != nil {
		p.tokenSink.SetCycleBudget(reliability.NewBudget("model_tokens", 0, int64(p.tokenBudget)))
	}

	run := &cycleRun{cycle: cycle, soft: time.Now().Add(p.cfg.SoftDeadline)}
	start := time.Now()
	p.log.Info("cycle: starting", "cycle_id", cycle.ID)

	p.ingest(ctx, run)
	p.score(ctx, run)
	touched := p.clusterItems(ctx, run)
	works := p.resolveText(ctx, run, touched)
	p.planPublish(ctx, run, works)
	p.selectImages(works)
	p.synthesize(ctx, run, works)
	p.generateComponents(ctx, run, works)
	p.publish(ctx, run, works)

	if ctx.Err() != nil {
		run.addError(errors.New("cycle: hard deadline exceeded"))
	}
	switch {
	case ctx.Err() != nil && cycle.ArticlesPublished == 0:
		cycle.Status = models.CycleFailed
	case run.hasErrors():
		cycle.Status = models.CyclePartial
	default:
		cycle.Status = models.CycleOK
	}
	cycle.ErrorText = run.errorText()

	// The cycle context may already be dead; the bookkeeping write still
	// has to land.
	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer finCancel()
	if err := p.cycles.Finish(finCtx, cycle); err != nil {
		p.log.Error("cycle: finish bookkeeping failed", "cycle_id", cycle.ID, "err", err)
	}

	p.log.Info("cycle: complete",
		"cycle_id", cycle.ID,
		"status", cycle.Status,
		"feeds_polled", cycle.FeedsPolled,
		"items_new", cycle.ItemsNew,
		"items_scored", cycle.ItemsScored,
		"items_approved", cycle.ItemsApproved,
		"clusters_affected", cycle.ClustersAffected,
		"articles_published", cycle.ArticlesPublished,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// scoreOf reads an item's score, zero when unscored.
func scoreOf(it *models.SourceItem) int {
	if it.Score == nil {
		return 0
	}
	return *it.Score
}

// truncate shortens a string to at most maxLen runes, marking the cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
