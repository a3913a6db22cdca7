package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsloom/newsloom/internal/config"
	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
)

type testEnv struct {
	items     *memItems
	clusters  *memClusters
	published *memPublished
	updates   *memUpdates
	cycles    *memCycles
	poller    *fakePoller
	scorer    *fakeScorer
	fetcher   *fakeFetcher
	synth     *fakeSynth
	selector  *fakeSelector
	renderer  *fakeRenderer
	pipe      *Pipeline
}

func testCatalog() []feeds.Feed {
	return []feeds.Feed{
		{Name: "Reuters", URL: "https://reuters.example.com/rss", Tier: 1},
		{Name: "BBC News", URL: "https://bbc.example.com/rss", Tier: 1},
		{Name: "Financial Times", URL: "https://ft.example.com/rss", Tier: 1},
		{Name: "AP News", URL: "https://ap.example.com/rss", Tier: 2},
		{Name: "The Verge", URL: "https://verge.example.com/rss", Tier: 3},
	}
}

// wireCopy is long enough to clear the full-text minimum for any URL the
// fetcher fake has no specific answer for.
var wireCopy = strings.Repeat("Officials confirmed the development and analysts weighed its impact. ", 10)

func newTestEnv(t *testing.T, mods ...func(*Deps)) *testEnv {
	t.Helper()

	items := &memItems{}
	clusters := &memClusters{rows: make(map[int64]*models.Cluster), items: items}
	items.clusters = clusters
	published := &memPublished{byCluster: make(map[int64]*models.PublishedArticle)}
	updates := &memUpdates{}
	cycles := &memCycles{}

	poller := &fakePoller{byFeed: make(map[string][]feeds.RawItem), errs: make(map[string]error)}
	scorer := &fakeScorer{byTitle: make(map[string]int), category: "economy", emoji: "🏦"}
	fetcher := &fakeFetcher{byURL: make(map[string]string), errs: make(map[string]error), fallback: wireCopy, minLen: 400}
	synth := &fakeSynth{}
	selector := &fakeSelector{comps: []string{models.ComponentDetails, models.ComponentTimeline}, emoji: "📰"}
	renderer := &fakeRenderer{}

	d := Deps{
		Config: config.PipelineConfig{
			SoftDeadline:     time.Minute,
			HardDeadline:     2 * time.Minute,
			ApproveThreshold: 700,
			IngestWorkers:    4,
			ScoreWorkers:     4,
			FetchWorkers:     4,
			ComponentWorkers: 4,
			ScoreBudget:      100,
			SynthBudget:      20,
			ComponentBudget:  50,
			FetchBudget:      10,
			MinFullText:      400,
			BreakerThreshold: 5,
			BreakerCooldown:  time.Minute,
		},
		Cluster: config.ClusterConfig{
			MatchThreshold: 0.75,
			Window:         48 * time.Hour,
			Inactivity:     12 * time.Hour,
			MaxAge:         72 * time.Hour,
		},
		Items:       items,
		Clusters:    clusters,
		Published:   published,
		Updates:     updates,
		Cycles:      cycles,
		Catalog:     testCatalog(),
		Poller:      poller,
		Fetcher:     fetcher,
		Scorer:      scorer,
		Synthesizer: synth,
		Selector:    selector,
		Renderer:    renderer,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, mod := range mods {
		mod(&d)
	}

	p := New(d)
	// Keep the retry schedules, drop the waits.
	for _, pol := range []*reliability.Policy{&p.scorePolicy, &p.synthPolicy, &p.componentPolicy} {
		pol.BaseDelay = time.Millisecond
		pol.MaxDelay = 2 * time.Millisecond
	}

	return &testEnv{
		items:     items,
		clusters:  clusters,
		published: published,
		updates:   updates,
		cycles:    cycles,
		poller:    poller,
		scorer:    scorer,
		fetcher:   fetcher,
		synth:     synth,
		selector:  selector,
		renderer:  renderer,
		pipe:      p,
	}
}

func runCycle(t *testing.T, env *testEnv) *models.FetchCycle {
	t.Helper()
	require.NoError(t, env.pipe.Run(context.Background()))
	c := env.cycles.last()
	require.NotNil(t, c)
	return c
}

func entry(title, link, desc, image string, published time.Time) feeds.RawItem {
	return feeds.RawItem{
		Title:       title,
		Link:        link,
		GUID:        link,
		Description: desc,
		Published:   published,
		ImageURL:    image,
	}
}

// seedECBPair loads two tier-one tellings of the same rate decision. They
// score 920 and 900 after the tier lift and group into one cluster.
func seedECBPair(env *testEnv, now time.Time) {
	env.poller.set("Reuters", entry(
		"European Central Bank raises rates to 4.5%",
		"https://reuters.example.com/ecb-rates",
		"The European Central Bank raised borrowing costs for the tenth consecutive time on Thursday.",
		"https://cdn.reuters.example.com/ecb-1200x800.jpg",
		now.Add(-2*time.Hour),
	))
	env.poller.set("BBC News", entry(
		"European Central Bank raises key rate to 4.5 percent",
		"https://bbc.example.com/ecb-decision",
		"The European Central Bank raised borrowing costs for the tenth consecutive time at its Thursday meeting.",
		"https://cdn.bbc.example.com/ecb-640x480.png",
		now.Add(-90*time.Minute),
	))
	env.scorer.byTitle["European Central Bank raises rates to 4.5%"] = 896
	env.scorer.byTitle["European Central Bank raises key rate to 4.5 percent"] = 876
}

// seedFTFollowup adds a third telling that joins the pair's cluster. The
// stored score is raw plus the tier-one lift of 24.
func seedFTFollowup(env *testEnv, now time.Time, raw int) {
	env.poller.set("Financial Times", entry(
		"European Central Bank raises rates to 4.5 percent",
		"https://ft.example.com/ecb-hike",
		"Borrowing costs hit their highest level since the euro launched after the tenth consecutive hike.",
		"https://cdn.ft.example.com/ecb-800x533.jpg",
		now.Add(-30*time.Minute),
	))
	env.scorer.byTitle["European Central Bank raises rates to 4.5 percent"] = raw
}

func TestRunPublishesClusteredStory(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)

	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 5, cycle.FeedsPolled)
	assert.Equal(t, 2, cycle.ItemsNew)
	assert.Equal(t, 2, cycle.ItemsScored)
	assert.Equal(t, 2, cycle.ItemsApproved)
	assert.Equal(t, 1, cycle.ClustersAffected)
	assert.Equal(t, 1, cycle.ArticlesPublished)
	assert.Empty(t, cycle.ErrorText)
	require.NotNil(t, cycle.FinishedAt)

	require.Equal(t, 1, env.clusters.count())
	cluster, err := env.clusters.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "European Central Bank raises rates to 4.5%", cluster.EventLabel)
	assert.Equal(t, 2, cluster.SourceCount)
	assert.Equal(t, 920, cluster.TopScore)
	assert.Equal(t, "economy", cluster.Category)
	require.NotNil(t, cluster.PublishedArticleID)

	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, 1, art.Version)
	assert.Equal(t, "Brief: European Central Bank raises rates to 4.5%", art.TitlePro)
	assert.Equal(t, 2, art.NumSources)
	// Average of 920 and 900 plus the two-member volume bonus.
	assert.Equal(t, 930, art.AIFinalScore)
	assert.Equal(t, "economy", art.Category)
	assert.Equal(t, "📰", art.Emoji)
	assert.Equal(t, "https://cdn.reuters.example.com/ecb-1200x800.jpg", art.ImageURL)
	assert.Equal(t, "Reuters", art.ImageAttribution)
	assert.Equal(t, []string{models.ComponentDetails, models.ComponentTimeline}, art.Components)
	assert.Len(t, art.Details, 3)
	assert.Len(t, art.Timeline, 2)
	assert.Nil(t, art.Chart)
	assert.ElementsMatch(t, []string{
		"https://reuters.example.com/ecb-rates",
		"https://bbc.example.com/ecb-decision",
	}, art.SourceURLs)

	log := env.updates.all()
	require.Len(t, log, 1)
	assert.Equal(t, art.ID, log[0].ArticleID)
	assert.Equal(t, models.TriggerInitial, log[0].Trigger)
	assert.Equal(t, 2, log[0].SourcesAdded)
	assert.Equal(t, 0, log[0].PrevVersion)
	assert.Equal(t, 1, log[0].NewVersion)

	for _, url := range art.SourceURLs {
		it := env.items.byURL(url)
		require.NotNil(t, it)
		assert.True(t, it.Consumed)
		assert.NotEmpty(t, it.FullText)
		assert.False(t, it.LowText)
	}
}

func TestRunRepublishesOnHighScoreSource(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)
	runCycle(t, env)

	env.published.backdate(1, 31*time.Minute)
	seedFTFollowup(env, now, 836) // 860 stored, clears the high-score bar

	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 1, cycle.ItemsNew)
	assert.Equal(t, 1, cycle.ClustersAffected)
	assert.Equal(t, 1, cycle.ArticlesPublished)

	// The follow-up joined the existing cluster instead of starting one.
	require.Equal(t, 1, env.clusters.count())

	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, 2, art.Version)
	assert.Equal(t, 3, art.NumSources)
	// Average of 920, 900 and 860 plus the three-member bonus.
	assert.Equal(t, 923, art.AIFinalScore)
	assert.Contains(t, art.SourceURLs, "https://ft.example.com/ecb-hike")

	log := env.updates.all()
	require.Len(t, log, 2)
	assert.Equal(t, models.TriggerHighScore, log[1].Trigger)
	assert.Equal(t, 1, log[1].SourcesAdded)
	assert.Equal(t, 1, log[1].PrevVersion)
	assert.Equal(t, 2, log[1].NewVersion)

	ft := env.items.byURL("https://ft.example.com/ecb-hike")
	require.NotNil(t, ft)
	assert.True(t, ft.Consumed)
}

func TestRunHoldsUpdateBelowTriggers(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)
	runCycle(t, env)
	require.Equal(t, 1, env.synth.callCount())

	env.published.backdate(1, 31*time.Minute)
	seedFTFollowup(env, now, 816) // 840 stored: under the bar, and only one new member

	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 1, cycle.ClustersAffected)
	assert.Equal(t, 0, cycle.ArticlesPublished)
	// No trigger means no drafting spend either.
	assert.Equal(t, 1, env.synth.callCount())

	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, art.Version)
	assert.Len(t, env.updates.all(), 1)

	ft := env.items.byURL("https://ft.example.com/ecb-hike")
	require.NotNil(t, ft)
	require.NotNil(t, ft.ClusterID)
	require.NotNil(t, ft.Score)
	assert.Equal(t, 840, *ft.Score)
	assert.False(t, ft.Consumed)
}

func TestRunRepublishesOnVolume(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)
	runCycle(t, env)

	env.published.backdate(1, 31*time.Minute)
	// Two syndicated follow-ups, both under the high-score bar.
	desc := "Borrowing costs hit their highest level since the euro launched after the tenth consecutive hike."
	env.poller.set("Financial Times", entry(
		"European Central Bank raises rates to 4.5 percent",
		"https://ft.example.com/ecb-hike", desc,
		"https://cdn.ft.example.com/ecb-800x533.jpg",
		now.Add(-40*time.Minute),
	))
	env.poller.set("AP News", entry(
		"European Central Bank raises rates to 4.5 percent",
		"https://ap.example.com/ecb-hike", desc,
		"https://cdn.ap.example.com/ecb-800x533.jpg",
		now.Add(-20*time.Minute),
	))
	env.scorer.byTitle["European Central Bank raises rates to 4.5 percent"] = 776 // FT 800, AP 784

	cycle := runCycle(t, env)

	assert.Equal(t, 2, cycle.ItemsNew)
	assert.Equal(t, 1, cycle.ArticlesPublished)
	require.Equal(t, 1, env.clusters.count())

	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, art.Version)
	assert.Equal(t, 4, art.NumSources)
	// Average of 920, 900, 800 and 784 plus the four-member bonus.
	assert.Equal(t, 891, art.AIFinalScore)

	log := env.updates.all()
	require.Len(t, log, 2)
	assert.Equal(t, models.TriggerVolume, log[1].Trigger)
	assert.Equal(t, 2, log[1].SourcesAdded)
}

func TestRunCooldownSuppressesUpdateThenReleases(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)
	runCycle(t, env)

	// High-score follow-up while the article is minutes old: suppressed.
	seedFTFollowup(env, now, 836)
	cycle := runCycle(t, env)

	assert.Equal(t, 0, cycle.ArticlesPublished)
	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, art.Version)
	ft := env.items.byURL("https://ft.example.com/ecb-hike")
	require.NotNil(t, ft)
	assert.False(t, ft.Consumed)

	// Feeds move on. The pending member alone drives the update once the
	// cooldown has passed.
	env.poller.clear()
	env.published.backdate(1, 31*time.Minute)
	cycle = runCycle(t, env)

	assert.Equal(t, 0, cycle.ItemsNew)
	assert.Equal(t, 1, cycle.ClustersAffected)
	assert.Equal(t, 1, cycle.ArticlesPublished)

	art, err = env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, art.Version)
	assert.Equal(t, 3, art.NumSources)
	assert.True(t, env.items.byURL("https://ft.example.com/ecb-hike").Consumed)
}

func TestRunSeparatesUnrelatedEvents(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)
	env.poller.set("AP News", entry(
		"Japan launches lunar probe from Tanegashima spaceport",
		"https://ap.example.com/japan-probe",
		"The mission lifted off carrying instruments bound for the lunar south pole.",
		"https://cdn.ap.example.com/launch-1024x683.jpg",
		now.Add(-time.Hour),
	))
	env.scorer.byTitle["Japan launches lunar probe from Tanegashima spaceport"] = 842 // 850 after tier

	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 3, cycle.ItemsNew)
	assert.Equal(t, 2, cycle.ClustersAffected)
	assert.Equal(t, 2, cycle.ArticlesPublished)
	assert.Equal(t, 2, env.clusters.count())

	probe := env.items.byURL("https://ap.example.com/japan-probe")
	require.NotNil(t, probe)
	require.NotNil(t, probe.ClusterID)
	ecb := env.items.byURL("https://reuters.example.com/ecb-rates")
	require.NotNil(t, ecb)
	require.NotNil(t, ecb.ClusterID)
	assert.NotEqual(t, *ecb.ClusterID, *probe.ClusterID)

	japan, err := env.published.GetByCluster(context.Background(), *probe.ClusterID)
	require.NoError(t, err)
	require.NotNil(t, japan)
	assert.Equal(t, 1, japan.NumSources)
	// 850 plus the single-member bonus.
	assert.Equal(t, 860, japan.AIFinalScore)
}

func TestIngestDeduplicatesAcrossCycles(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)
	runCycle(t, env)
	require.Equal(t, 2, env.items.count())

	// The same stories come back: one behind tracking parameters with a
	// fresh GUID, one re-posted on the same outlet under a new URL.
	env.poller.set("Reuters", entry(
		"European Central Bank raises rates to 4.5%",
		"https://reuters.example.com/ecb-rates?utm_source=rss&utm_campaign=feed",
		"The European Central Bank raised borrowing costs for the tenth consecutive time on Thursday.",
		"https://cdn.reuters.example.com/ecb-1200x800.jpg",
		now.Add(-2*time.Hour),
	))
	env.poller.set("BBC News", entry(
		"European Central Bank raises key rate to 4.5 percent",
		"https://bbc.example.com/ecb-decision-repost",
		"An updated look at the decision.",
		"https://cdn.bbc.example.com/ecb-640x480.png",
		now.Add(-time.Hour),
	))

	cycle := runCycle(t, env)

	assert.Equal(t, 0, cycle.ItemsNew)
	assert.Equal(t, 0, cycle.ItemsScored)
	assert.Equal(t, 0, cycle.ClustersAffected)
	assert.Equal(t, 2, env.items.count())

	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, art.Version)
}

func TestRunUpgradesImageWhenStrongerSourceArrives(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	verge := entry(
		"Apple unveils new AI features at WWDC keynote",
		"https://verge.example.com/apple-wwdc",
		"Apple introduced a suite of generative AI features across its operating systems at the WWDC keynote.",
		"https://cdn.verge.example.com/wwdc.jpg",
		now.Add(-3*time.Hour),
	)
	verge.ImageWidth = 200
	verge.ImageHeight = 150
	env.poller.set("The Verge", verge)
	env.scorer.byTitle["Apple unveils new AI features at WWDC keynote"] = 908 // 900 after the tier dock

	cycle := runCycle(t, env)
	require.Equal(t, 1, cycle.ArticlesPublished)
	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, "https://cdn.verge.example.com/wwdc.jpg", art.ImageURL)
	assert.Equal(t, "The Verge", art.ImageAttribution)

	env.published.backdate(1, 31*time.Minute)
	env.poller.clear()
	env.poller.set("Reuters", entry(
		"Apple unveils new AI features at WWDC 2026 keynote",
		"https://reuters.example.com/apple-wwdc",
		"Apple introduced a suite of generative AI features across its operating systems at the WWDC keynote.",
		"https://cdn.reuters.example.com/wwdc-1200x800.jpg",
		now.Add(-time.Hour),
	))
	env.scorer.byTitle["Apple unveils new AI features at WWDC 2026 keynote"] = 876 // 900 after the tier lift

	cycle = runCycle(t, env)
	require.Equal(t, 1, cycle.ArticlesPublished)
	require.Equal(t, 1, env.clusters.count())

	art, err = env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, art.Version)
	assert.Equal(t, 2, art.NumSources)
	// 30+30+20+18+5 beats 10+10+20+18+5.
	assert.Equal(t, "https://cdn.reuters.example.com/wwdc-1200x800.jpg", art.ImageURL)
	assert.Equal(t, "Reuters", art.ImageAttribution)

	log := env.updates.all()
	require.Len(t, log, 2)
	assert.Equal(t, models.TriggerHighScore, log[1].Trigger)
}

func TestRunRecoversClusterAfterSynthesisFailure(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	seedECBPair(env, now)
	env.synth.err = errors.New("model returned garbage")

	cycle := runCycle(t, env)

	assert.Equal(t, models.CyclePartial, cycle.Status)
	assert.Contains(t, cycle.ErrorText, "model returned garbage")
	assert.Equal(t, 0, cycle.ArticlesPublished)
	assert.Equal(t, 3, env.synth.callCount())

	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, art)
	cluster, err := env.clusters.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterActive, cluster.Status)
	assert.False(t, env.items.byURL("https://reuters.example.com/ecb-rates").Consumed)

	// Provider recovers. No fresh feed entries are needed; the cluster's
	// unconsumed members bring it back into the working set.
	env.synth.err = nil
	env.poller.clear()

	cycle = runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 0, cycle.ItemsNew)
	assert.Equal(t, 1, cycle.ClustersAffected)
	assert.Equal(t, 1, cycle.ArticlesPublished)

	art, err = env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, 1, art.Version)
	assert.True(t, env.items.byURL("https://reuters.example.com/ecb-rates").Consumed)
	assert.True(t, env.items.byURL("https://bbc.example.com/ecb-decision").Consumed)
}

func TestRunSecondCycleWithNothingNewIsQuiet(t *testing.T) {
	env := newTestEnv(t)
	seedECBPair(env, time.Now())
	runCycle(t, env)
	require.Equal(t, 1, env.synth.callCount())

	// Feeds unchanged: every entry dedups away, nothing is pending.
	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 0, cycle.ItemsNew)
	assert.Equal(t, 0, cycle.ClustersAffected)
	assert.Equal(t, 0, cycle.ArticlesPublished)
	assert.Equal(t, 1, env.synth.callCount())

	art, err := env.published.GetByCluster(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, art.Version)
	assert.Len(t, env.updates.all(), 1)
}

func TestRunSoftDeadlineStopsNewWork(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.SoftDeadline = -time.Second
	})
	seedECBPair(env, time.Now())

	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 0, cycle.FeedsPolled)
	assert.Equal(t, 0, cycle.ItemsNew)
	assert.Equal(t, 0, cycle.ArticlesPublished)
	require.NotNil(t, cycle.FinishedAt)
	assert.Equal(t, 0, env.items.count())
}

func TestRunHardDeadlineFailsCycle(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.HardDeadline = time.Nanosecond
	})
	seedECBPair(env, time.Now())

	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleFailed, cycle.Status)
	assert.Contains(t, cycle.ErrorText, "hard deadline")
	assert.Equal(t, 0, cycle.ArticlesPublished)
	// Bookkeeping lands even though the cycle context is dead.
	require.NotNil(t, cycle.FinishedAt)
}

func TestRunSkipsWhenPreviousCycleStillRunning(t *testing.T) {
	env := newTestEnv(t)
	env.pipe.mu.Lock()
	defer env.pipe.mu.Unlock()

	require.NoError(t, env.pipe.Run(context.Background()))
	assert.Nil(t, env.cycles.last())
}

func TestRunHandsTokenBudgetToProvider(t *testing.T) {
	sink := &fakeTokenSink{}
	env := newTestEnv(t, func(d *Deps) {
		d.TokenSink = sink
		d.TokenBudget = 250000
	})

	runCycle(t, env)
	require.Len(t, sink.budgets, 1)
	require.NotNil(t, sink.budgets[0])

	// A fresh budget every cycle.
	runCycle(t, env)
	assert.Len(t, sink.budgets, 2)
}

func TestRunIngestFeedFailureDoesNotFailCycle(t *testing.T) {
	env := newTestEnv(t)
	seedECBPair(env, time.Now())
	env.poller.errs["AP News"] = errors.New("connect: connection refused")

	cycle := runCycle(t, env)

	assert.Equal(t, models.CycleOK, cycle.Status)
	assert.Equal(t, 5, cycle.FeedsPolled)
	assert.Equal(t, 2, cycle.ItemsNew)
	assert.Equal(t, 1, cycle.ArticlesPublished)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	got := truncate(strings.Repeat("é", 30), 10)
	assert.Equal(t, 10, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}
