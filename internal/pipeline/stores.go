package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/fetchtext"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/reliability"
	"github.com/newsloom/newsloom/internal/storage"
)

// The pipeline talks to its stores and providers through narrow interfaces
// so stages can be exercised against in-memory fakes. The postgres stores in
// the models package are the production implementations.

// ItemStore is the source-item persistence the stages need.
type ItemStore interface {
	Exists(ctx context.Context, url, source, guid, fingerprint string) (bool, error)
	Create(ctx context.Context, it *models.SourceItem) error
	ListUnscored(ctx context.Context, limit int) ([]models.SourceItem, error)
	SetScore(ctx context.Context, id uuid.UUID, score int, category, emoji string, approved bool) error
	ListUnclustered(ctx context.Context) ([]models.SourceItem, error)
	ListPendingClusterIDs(ctx context.Context) ([]int64, error)
	AttachToCluster(ctx context.Context, id uuid.UUID, clusterID int64) (bool, error)
	ListByCluster(ctx context.Context, clusterID int64) ([]models.SourceItem, error)
	SetFullText(ctx context.Context, id uuid.UUID, text string, lowText bool) error
	MarkConsumed(ctx context.Context, ids []uuid.UUID) error
}

// ClusterStore is the cluster persistence the stages need.
type ClusterStore interface {
	Create(ctx context.Context, c *models.Cluster) error
	GetByID(ctx context.Context, id int64) (*models.Cluster, error)
	ListActive(ctx context.Context, window time.Duration) ([]models.Cluster, error)
	CloseStale(ctx context.Context, inactivity, maxAge time.Duration) (int, error)
	Absorb(ctx context.Context, id int64, keywords, entities []string, score int) error
	SetPublishedArticle(ctx context.Context, id, articleID int64) error
}

// PublishedStore is the published-article persistence the publish stage needs.
type PublishedStore interface {
	GetByCluster(ctx context.Context, clusterID int64) (*models.PublishedArticle, error)
	Create(ctx context.Context, a *models.PublishedArticle) error
	Update(ctx context.Context, a *models.PublishedArticle) error
}

// UpdateLogStore records why a published article changed.
type UpdateLogStore interface {
	Record(ctx context.Context, u *models.ArticleUpdate) error
}

// CycleStore books cycle runs in and out.
type CycleStore interface {
	Begin(ctx context.Context) (*models.FetchCycle, error)
	Finish(ctx context.Context, c *models.FetchCycle) error
}

// FeedPoller fetches and parses one feed.
type FeedPoller interface {
	Poll(ctx context.Context, feed feeds.Feed) ([]feeds.RawItem, error)
}

// TextFetcher resolves the full article text behind an item URL.
type TextFetcher interface {
	Fetch(ctx context.Context, url string) (fetchtext.Result, error)
	MinLength() int
}

// SnapshotArchive stores resolved article text for later verification.
// Optional; Configured reports whether uploads actually go anywhere.
type SnapshotArchive interface {
	Configured() bool
	StoreSnapshot(ctx context.Context, itemID uuid.UUID, articleURL, method, contentType string, text []byte) error
}

// TokenBudgeted is implemented by providers that can meter token spend
// against a per-cycle budget.
type TokenBudgeted interface {
	SetCycleBudget(b *reliability.Budget)
}

var (
	_ ItemStore       = (*models.ItemStore)(nil)
	_ ClusterStore    = (*models.ClusterStore)(nil)
	_ PublishedStore  = (*models.PublishedStore)(nil)
	_ UpdateLogStore  = (*models.UpdateLogStore)(nil)
	_ CycleStore      = (*models.CycleStore)(nil)
	_ FeedPoller      = (*feeds.Poller)(nil)
	_ TextFetcher     = (*fetchtext.Fetcher)(nil)
	_ SnapshotArchive = (*storage.Client)(nil)
)
