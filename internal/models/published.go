package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PublishedArticle is the synthesised article for one cluster, in both
// registers, with its optional visual components.
type PublishedArticle struct {
	ID               int64           `json:"id"`
	ClusterID        int64           `json:"cluster_id"`
	TitlePro         string          `json:"title_pro"`
	TitleSimple      string          `json:"title_simple"`
	BulletsPro       []string        `json:"bullets_pro"`
	BulletsSimple    []string        `json:"bullets_simple"`
	BodyPro          string          `json:"body_pro"`
	BodySimple       string          `json:"body_simple"`
	Category         string          `json:"category,omitempty"`
	Emoji            string          `json:"emoji,omitempty"`
	ImageURL         string          `json:"image_url,omitempty"`
	ImageAttribution string          `json:"image_attribution,omitempty"`
	Components       []string        `json:"components"`
	Timeline         []TimelineEntry `json:"timeline,omitempty"`
	Details          []string        `json:"details,omitempty"`
	Chart            *ChartPayload   `json:"chart,omitempty"`
	AIFinalScore     int             `json:"ai_final_score"`
	NumSources       int             `json:"num_sources"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	SourceURLs       []string        `json:"source_urls"`
}

// PublishedStore provides data access methods for published articles.
type PublishedStore struct {
	pool *pgxpool.Pool
}

// NewPublishedStore creates a new PublishedStore.
func NewPublishedStore(pool *pgxpool.Pool) *PublishedStore {
	return &PublishedStore{pool: pool}
}

const publishedColumns = `id, cluster_id, title_pro, title_simple, bullets_pro,
	       bullets_simple, body_pro, body_simple, category, emoji, image_url,
	       image_attribution, components, timeline, details, chart,
	       ai_final_score, num_sources, version, created_at, updated_at,
	       source_urls`

func scanPublishedFromRow(row scannable) (*PublishedArticle, error) {
	var a PublishedArticle
	var bulletsPro, bulletsSimple, components, timeline, details, chart, sourceURLs []byte
	if err := row.Scan(
		&a.ID, &a.ClusterID, &a.TitlePro, &a.TitleSimple, &bulletsPro,
		&bulletsSimple, &a.BodyPro, &a.BodySimple, &a.Category, &a.Emoji,
		&a.ImageURL, &a.ImageAttribution, &components, &timeline, &details,
		&chart, &a.AIFinalScore, &a.NumSources, &a.Version, &a.CreatedAt,
		&a.UpdatedAt, &sourceURLs,
	); err != nil {
		return nil, err
	}
	a.BulletsPro = scanStringList(bulletsPro)
	a.BulletsSimple = scanStringList(bulletsSimple)
	a.Components = scanStringList(components)
	a.SourceURLs = scanStringList(sourceURLs)
	if len(timeline) > 0 {
		_ = json.Unmarshal(timeline, &a.Timeline)
	}
	if len(details) > 0 {
		_ = json.Unmarshal(details, &a.Details)
	}
	if len(chart) > 0 {
		_ = json.Unmarshal(chart, &a.Chart)
	}
	return &a, nil
}

// payloadArgs marshals the nullable component payloads, keeping absent ones
// as SQL NULL rather than empty JSON.
func payloadArgs(a *PublishedArticle) (timeline, details, chart any) {
	if len(a.Timeline) > 0 {
		b, _ := json.Marshal(a.Timeline)
		timeline = b
	}
	if len(a.Details) > 0 {
		b, _ := json.Marshal(a.Details)
		details = b
	}
	if a.Chart != nil {
		b, _ := json.Marshal(a.Chart)
		chart = b
	}
	return timeline, details, chart
}

// GetByCluster returns the published article for a cluster, or nil when the
// cluster has never been published.
func (s *PublishedStore) GetByCluster(ctx context.Context, clusterID int64) (*PublishedArticle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+publishedColumns+`
		FROM published_articles
		WHERE cluster_id = $1
	`, clusterID)
	a, err := scanPublishedFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("published get by cluster: %w", err)
	}
	return a, nil
}

// Create inserts the first version for a cluster.
func (s *PublishedStore) Create(ctx context.Context, a *PublishedArticle) error {
	a.Version = 1
	timeline, details, chart := payloadArgs(a)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO published_articles (cluster_id, title_pro, title_simple,
		        bullets_pro, bullets_simple, body_pro, body_simple, category,
		        emoji, image_url, image_attribution, components, timeline,
		        details, chart, ai_final_score, num_sources, version,
		        source_urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at
	`,
		a.ClusterID, a.TitlePro, a.TitleSimple,
		marshalStringList(a.BulletsPro), marshalStringList(a.BulletsSimple),
		a.BodyPro, a.BodySimple, a.Category, a.Emoji, a.ImageURL,
		a.ImageAttribution, marshalStringList(a.Components), timeline,
		details, chart, a.AIFinalScore, a.NumSources, a.Version,
		marshalStringList(a.SourceURLs),
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("published create: %w", err)
	}
	return nil
}

// Update replaces the article content for a cluster and bumps the version.
// The caller decides whether an update is warranted; this method always
// increments.
func (s *PublishedStore) Update(ctx context.Context, a *PublishedArticle) error {
	timeline, details, chart := payloadArgs(a)
	err := s.pool.QueryRow(ctx, `
		UPDATE published_articles
		SET title_pro = $1, title_simple = $2, bullets_pro = $3,
		    bullets_simple = $4, body_pro = $5, body_simple = $6,
		    category = $7, emoji = $8, image_url = $9,
		    image_attribution = $10, components = $11, timeline = $12,
		    details = $13, chart = $14, ai_final_score = $15,
		    num_sources = $16, source_urls = $17,
		    version = version + 1, updated_at = now()
		WHERE cluster_id = $18
		RETURNING id, version, updated_at
	`,
		a.TitlePro, a.TitleSimple,
		marshalStringList(a.BulletsPro), marshalStringList(a.BulletsSimple),
		a.BodyPro, a.BodySimple, a.Category, a.Emoji, a.ImageURL,
		a.ImageAttribution, marshalStringList(a.Components), timeline,
		details, chart, a.AIFinalScore, a.NumSources,
		marshalStringList(a.SourceURLs), a.ClusterID,
	).Scan(&a.ID, &a.Version, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("published update: no article for cluster %d", a.ClusterID)
		}
		return fmt.Errorf("published update: %w", err)
	}
	return nil
}
