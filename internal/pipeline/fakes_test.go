package pipeline

// In-memory stand-ins for the stores and providers, mirroring the behaviour
// of the postgres and HTTP implementations closely enough to run whole
// cycles in tests.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newsloom/newsloom/internal/ai"
	"github.com/newsloom/newsloom/internal/clusterer"
	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/fetchtext"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
	"github.com/newsloom/newsloom/internal/research"
)

type memItems struct {
	mu       sync.Mutex
	rows     []*models.SourceItem
	clusters *memClusters
}

func (m *memItems) Exists(_ context.Context, url, source, guid, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.rows {
		if it.URL == url || it.Fingerprint == fingerprint {
			return true, nil
		}
		if guid != "" && it.Source == source && it.GUID == guid {
			return true, nil
		}
	}
	return false, nil
}

func (m *memItems) Create(_ context.Context, it *models.SourceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.URL == it.URL {
			return fmt.Errorf("duplicate url %s", it.URL)
		}
	}
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	it.FetchedAt = time.Now()
	cp := *it
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memItems) ListUnscored(_ context.Context, limit int) ([]models.SourceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SourceItem
	for _, it := range m.rows {
		if it.Score == nil && it.ImageURL != "" {
			out = append(out, *it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memItems) SetScore(_ context.Context, id uuid.UUID, score int, category, emoji string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.byID(id)
	if it == nil {
		return fmt.Errorf("item not found: %s", id)
	}
	it.Score = &score
	it.Category = category
	it.Emoji = emoji
	it.Approved = approved
	return nil
}

func (m *memItems) ListUnclustered(_ context.Context) ([]models.SourceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SourceItem
	for _, it := range m.rows {
		if it.Approved && !it.Consumed && it.ClusterID == nil {
			out = append(out, *it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

func (m *memItems) ListPendingClusterIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, it := range m.rows {
		if !it.Consumed && it.ClusterID != nil && !seen[*it.ClusterID] {
			seen[*it.ClusterID] = true
			ids = append(ids, *it.ClusterID)
		}
	}
	m.mu.Unlock()

	var active []int64
	for _, id := range ids {
		if c, _ := m.clusters.GetByID(context.Background(), id); c != nil && c.Status == models.ClusterActive {
			active = append(active, id)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active, nil
}

func (m *memItems) AttachToCluster(_ context.Context, id uuid.UUID, clusterID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.byID(id)
	if it == nil {
		return false, fmt.Errorf("item not found: %s", id)
	}
	if it.ClusterID != nil {
		return false, nil
	}
	it.ClusterID = &clusterID
	return true, nil
}

func (m *memItems) ListByCluster(_ context.Context, clusterID int64) ([]models.SourceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SourceItem
	for _, it := range m.rows {
		if it.ClusterID != nil && *it.ClusterID == clusterID {
			out = append(out, *it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Score, out[j].Score
		switch {
		case si == nil && sj == nil:
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		case si == nil:
			return false
		case sj == nil:
			return true
		case *si != *sj:
			return *si > *sj
		}
		return out[i].PublishedAt.Before(out[j].PublishedAt)
	})
	return out, nil
}

func (m *memItems) SetFullText(_ context.Context, id uuid.UUID, text string, lowText bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.byID(id)
	if it == nil {
		return fmt.Errorf("item not found: %s", id)
	}
	it.FullText = text
	it.LowText = lowText
	return nil
}

func (m *memItems) MarkConsumed(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if it := m.byID(id); it != nil {
			it.Consumed = true
		}
	}
	return nil
}

// byID assumes the lock is held.
func (m *memItems) byID(id uuid.UUID) *models.SourceItem {
	for _, it := range m.rows {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (m *memItems) byURL(url string) *models.SourceItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.rows {
		if it.URL == url {
			return it
		}
	}
	return nil
}

func (m *memItems) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memClusters struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Cluster
	items  *memItems
}

func (m *memClusters) Create(_ context.Context, c *models.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	if c.Status == "" {
		c.Status = models.ClusterActive
	}
	c.CreatedAt = time.Now()
	c.LastUpdatedAt = c.CreatedAt
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memClusters) GetByID(_ context.Context, id int64) (*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("cluster not found: %d", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memClusters) ListActive(_ context.Context, window time.Duration) ([]models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []models.Cluster
	for _, c := range m.rows {
		if c.Status == models.ClusterActive && !c.LastUpdatedAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt) })
	return out, nil
}

func (m *memClusters) CloseStale(_ context.Context, inactivity, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	n := 0
	for _, c := range m.rows {
		if c.Status != models.ClusterActive {
			continue
		}
		if c.LastUpdatedAt.Before(now.Add(-inactivity)) || c.CreatedAt.Before(now.Add(-maxAge)) {
			c.Status = models.ClusterClosed
			n++
		}
	}
	return n, nil
}

func (m *memClusters) Absorb(_ context.Context, id int64, keywords, entities []string, score int) error {
	m.mu.Lock()
	c, ok := m.rows[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("cluster not found: %d", id)
	}
	c.SourceCount++
	c.Keywords = clusterer.Union(c.Keywords, keywords)
	c.Entities = clusterer.Union(c.Entities, entities)
	if score > c.TopScore {
		c.TopScore = score
	}
	c.LastUpdatedAt = time.Now()
	m.mu.Unlock()

	if cat := m.majorityCategory(id); cat != "" {
		m.mu.Lock()
		c.Category = cat
		m.mu.Unlock()
	}
	return nil
}

func (m *memClusters) majorityCategory(id int64) string {
	m.items.mu.Lock()
	defer m.items.mu.Unlock()
	counts := make(map[string]int)
	for _, it := range m.items.rows {
		if it.ClusterID != nil && *it.ClusterID == id && it.Category != "" {
			counts[it.Category]++
		}
	}
	best := ""
	for cat, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && cat < best) {
			best = cat
		}
	}
	return best
}

func (m *memClusters) SetPublishedArticle(_ context.Context, id, articleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("cluster not found: %d", id)
	}
	c.PublishedArticleID = &articleID
	return nil
}

func (m *memClusters) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// backdate ages a cluster's last activity so it reads as stale.
func (m *memClusters) backdate(id int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.rows[id]; c != nil {
		c.LastUpdatedAt = c.LastUpdatedAt.Add(-d)
	}
}

type memPublished struct {
	mu        sync.Mutex
	nextID    int64
	byCluster map[int64]*models.PublishedArticle
}

func (m *memPublished) GetByCluster(_ context.Context, clusterID int64) (*models.PublishedArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byCluster[clusterID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memPublished) Create(_ context.Context, a *models.PublishedArticle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCluster[a.ClusterID]; ok {
		return fmt.Errorf("article already exists for cluster %d", a.ClusterID)
	}
	m.nextID++
	a.ID = m.nextID
	a.Version = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.byCluster[a.ClusterID] = &cp
	return nil
}

func (m *memPublished) Update(_ context.Context, a *models.PublishedArticle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byCluster[a.ClusterID]
	if !ok {
		return fmt.Errorf("no article for cluster %d", a.ClusterID)
	}
	a.ID = row.ID
	a.Version = row.Version + 1
	a.CreatedAt = row.CreatedAt
	a.UpdatedAt = time.Now()
	cp := *a
	m.byCluster[a.ClusterID] = &cp
	return nil
}

// backdate ages a published article so the update cooldown has passed.
func (m *memPublished) backdate(clusterID int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.byCluster[clusterID]; a != nil {
		a.UpdatedAt = a.UpdatedAt.Add(-d)
	}
}

type memUpdates struct {
	mu     sync.Mutex
	nextID int64
	rows   []models.ArticleUpdate
}

func (m *memUpdates) Record(_ context.Context, u *models.ArticleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	u.UpdatedAt = time.Now()
	m.rows = append(m.rows, *u)
	return nil
}

func (m *memUpdates) all() []models.ArticleUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ArticleUpdate, len(m.rows))
	copy(out, m.rows)
	return out
}

type memCycles struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.FetchCycle
}

func (m *memCycles) Begin(_ context.Context) (*models.FetchCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := &models.FetchCycle{ID: m.nextID, StartedAt: time.Now(), Status: models.CycleRunning}
	m.rows = append(m.rows, c)
	return c, nil
}

func (m *memCycles) Finish(_ context.Context, c *models.FetchCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	c.FinishedAt = &now
	return nil
}

func (m *memCycles) last() *models.FetchCycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) == 0 {
		return nil
	}
	return m.rows[len(m.rows)-1]
}

type fakePoller struct {
	mu     sync.Mutex
	byFeed map[string][]feeds.RawItem
	errs   map[string]error
}

func (f *fakePoller) Poll(_ context.Context, feed feeds.Feed) ([]feeds.RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[feed.Name]; err != nil {
		return nil, err
	}
	raws := f.byFeed[feed.Name]
	out := make([]feeds.RawItem, len(raws))
	for i, raw := range raws {
		raw.Feed = feed
		out[i] = raw
	}
	return out, nil
}

func (f *fakePoller) set(feedName string, items ...feeds.RawItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFeed[feedName] = items
}

func (f *fakePoller) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFeed = make(map[string][]feeds.RawItem)
}

type fakeScorer struct {
	mu       sync.Mutex
	byTitle  map[string]int
	err      error
	calls    int
	category string
	emoji    string
}

func (f *fakeScorer) ScoreItem(_ context.Context, in ai.ScoreInput) (ai.ScoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ai.ScoreResult{}, f.err
	}
	raw, ok := f.byTitle[in.Title]
	if !ok {
		raw = 500
	}
	return ai.ScoreResult{Score: raw, Category: f.category, Emoji: f.emoji}, nil
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFetcher struct {
	mu       sync.Mutex
	byURL    map[string]string
	errs     map[string]error
	fallback string
	minLen   int
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (fetchtext.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[url]; err != nil {
		return fetchtext.Result{}, err
	}
	text, ok := f.byURL[url]
	if !ok {
		text = f.fallback
	}
	if text == "" {
		return fetchtext.Result{}, errors.New("no text for " + url)
	}
	return fetchtext.Result{Text: text, Method: fetchtext.MethodPrimary, ContentType: "text/plain"}, nil
}

func (f *fakeFetcher) MinLength() int { return f.minLen }

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSynth struct {
	mu    sync.Mutex
	err   error
	calls int
	last  []ai.SourcePackage
}

func (f *fakeSynth) Synthesize(_ context.Context, sources []ai.SourcePackage) (ai.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = sources
	if f.err != nil {
		return ai.Draft{}, f.err
	}
	lead := "story"
	if len(sources) > 0 {
		lead = sources[0].Title
	}
	return ai.Draft{
		TitlePro:      "Brief: " + lead,
		TitleSimple:   "Simply: " + lead,
		BulletsPro:    []string{"pro one", "pro two", "pro three"},
		BulletsSimple: []string{"simple one", "simple two", "simple three"},
		BodyPro:       "Pro body.",
		BodySimple:    "Simple body.",
	}, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSynth) lastSources() []ai.SourcePackage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeSelector struct {
	mu      sync.Mutex
	comps   []string
	emoji   string
	subtype string
	err     error
	calls   int
}

func (f *fakeSelector) SelectComponents(_ context.Context, _, _ string) (ai.Selection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ai.Selection{}, f.err
	}
	return ai.Selection{Components: f.comps, Emoji: f.emoji, ChartSubtype: f.subtype}, nil
}

func (f *fakeSelector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct {
	mu          sync.Mutex
	errTimeline error
	errDetails  error
	errChart    error
}

func (f *fakeRenderer) RenderTimeline(_ context.Context, _ string, bundle []models.TimelineEntry) ([]models.TimelineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errTimeline != nil {
		return nil, f.errTimeline
	}
	if len(bundle) > 0 {
		return bundle, nil
	}
	return []models.TimelineEntry{
		{Date: "2026-08-20", Event: "Story breaks"},
		{Date: "2026-08-25", Event: "Latest development"},
	}, nil
}

func (f *fakeRenderer) RenderDetails(_ context.Context, _ string, bundle []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errDetails != nil {
		return nil, f.errDetails
	}
	if len(bundle) > 0 {
		return bundle, nil
	}
	return []string{"Sources: several", "Status: developing", "Region: global"}, nil
}

func (f *fakeRenderer) RenderChart(_ context.Context, _ string, bundle *models.ChartPayload, _ string) (*models.ChartPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errChart != nil {
		return nil, f.errChart
	}
	if bundle != nil {
		return bundle, nil
	}
	return &models.ChartPayload{
		Points: []models.ChartPoint{
			{Date: "2026-05-01", Value: 1},
			{Date: "2026-06-01", Value: 2},
			{Date: "2026-07-01", Value: 3},
			{Date: "2026-08-01", Value: 4},
		},
		XLabel: "Month",
		YLabel: "Value",
	}, nil
}

type fakeResearch struct {
	mu     sync.Mutex
	bundle *research.Bundle
	err    error
	calls  int
}

func (f *fakeResearch) Research(_ context.Context, _ research.Request) (*research.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bundle, nil
}

func (f *fakeResearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type snapshotRec struct {
	itemID      uuid.UUID
	articleURL  string
	method      string
	contentType string
	size        int
}

type fakeArchive struct {
	mu    sync.Mutex
	off   bool
	snaps []snapshotRec
}

func (f *fakeArchive) Configured() bool { return !f.off }

func (f *fakeArchive) StoreSnapshot(_ context.Context, itemID uuid.UUID, articleURL, method, contentType string, text []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snapshotRec{
		itemID:      itemID,
		articleURL:  articleURL,
		method:      method,
		contentType: contentType,
		size:        len(text),
	})
	return nil
}

func (f *fakeArchive) all() []snapshotRec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]snapshotRec, len(f.snaps))
	copy(out, f.snaps)
	return out
}

type fakeTokenSink struct {
	mu      sync.Mutex
	budgets []*reliability.Budget
}

func (f *fakeTokenSink) SetCycleBudget(b *reliability.Budget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budgets = append(f.budgets, b)
}
