package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Cluster statuses.
const (
	// ClusterActive means the cluster still accepts new members.
	ClusterActive = "active"
	// ClusterClosed means the event has gone stale; a fresh item on the same
	// topic starts a new cluster.
	ClusterClosed = "closed"
)

// Cluster groups source items that report the same real-world event.
type Cluster struct {
	ID                 int64     `json:"id"`
	EventLabel         string    `json:"event_label"`
	Keywords           []string  `json:"keywords"`
	Entities           []string  `json:"entities"`
	Category           string    `json:"category,omitempty"`
	Status             string    `json:"status"`
	SourceCount        int       `json:"source_count"`
	TopScore           int       `json:"top_score"`
	CreatedAt          time.Time `json:"created_at"`
	LastUpdatedAt      time.Time `json:"last_updated_at"`
	PublishedArticleID *int64    `json:"published_article_id,omitempty"`
}

// scanStringList unmarshals a JSONB string-array column (scanned as []byte).
func scanStringList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

func marshalStringList(list []string) []byte {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return []byte("[]")
	}
	return b
}

// ClusterStore provides data access methods for clusters.
type ClusterStore struct {
	pool *pgxpool.Pool
}

// NewClusterStore creates a new ClusterStore.
func NewClusterStore(pool *pgxpool.Pool) *ClusterStore {
	return &ClusterStore{pool: pool}
}

func scanClusterFromRow(row scannable) *Cluster {
	var c Cluster
	var keywordsRaw, entitiesRaw []byte
	if err := row.Scan(
		&c.ID, &c.EventLabel, &keywordsRaw, &entitiesRaw, &c.Category,
		&c.Status, &c.SourceCount, &c.TopScore, &c.CreatedAt,
		&c.LastUpdatedAt, &c.PublishedArticleID,
	); err != nil {
		return nil
	}
	c.Keywords = scanStringList(keywordsRaw)
	c.Entities = scanStringList(entitiesRaw)
	return &c
}

// Create inserts a new cluster and fills in its generated fields.
func (s *ClusterStore) Create(ctx context.Context, c *Cluster) error {
	if c.Status == "" {
		c.Status = ClusterActive
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO clusters (event_label, keywords, entities, category, status,
		                      source_count, top_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, last_updated_at
	`,
		c.EventLabel, marshalStringList(c.Keywords), marshalStringList(c.Entities),
		c.Category, c.Status, c.SourceCount, c.TopScore,
	).Scan(&c.ID, &c.CreatedAt, &c.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("cluster create: %w", err)
	}
	return nil
}

// GetByID returns a single cluster.
func (s *ClusterStore) GetByID(ctx context.Context, id int64) (*Cluster, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, event_label, keywords, entities, category, status,
		       source_count, top_score, created_at, last_updated_at,
		       published_article_id
		FROM clusters
		WHERE id = $1
	`, id)
	c := scanClusterFromRow(row)
	if c == nil {
		return nil, fmt.Errorf("cluster get: scan failed")
	}
	return c, nil
}

// ListActive returns open clusters touched within the candidate window,
// most recently updated first so matcher ties favour fresher clusters.
func (s *ClusterStore) ListActive(ctx context.Context, window time.Duration) ([]Cluster, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_label, keywords, entities, category, status,
		       source_count, top_score, created_at, last_updated_at,
		       published_article_id
		FROM clusters
		WHERE status = $1 AND last_updated_at >= now() - make_interval(secs => $2)
		ORDER BY last_updated_at DESC
	`, ClusterActive, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("cluster list active: %w", err)
	}
	defer rows.Close()

	var clusters []Cluster
	for rows.Next() {
		c := scanClusterFromRow(rows)
		if c == nil {
			return nil, fmt.Errorf("cluster list active scan: failed")
		}
		clusters = append(clusters, *c)
	}
	return clusters, rows.Err()
}

// CloseStale closes clusters idle past the inactivity window or older than
// the hard age cap. Returns how many were closed.
func (s *ClusterStore) CloseStale(ctx context.Context, inactivity, maxAge time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clusters SET status = $1
		WHERE status = $2
		  AND (last_updated_at < now() - make_interval(secs => $3)
		       OR created_at < now() - make_interval(secs => $4))
	`, ClusterClosed, ClusterActive, inactivity.Seconds(), maxAge.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cluster close stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Absorb records a new member: bumps the counter, folds the member's signals
// into the cluster signature, lifts top_score, refreshes the clock, and
// recomputes the category as the majority across members. The member row must
// already be attached so the majority subquery sees it.
func (s *ClusterStore) Absorb(ctx context.Context, id int64, keywords, entities []string, score int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clusters
		SET keywords = $1,
		    entities = $2,
		    source_count = source_count + 1,
		    top_score = GREATEST(top_score, $3),
		    last_updated_at = now(),
		    category = COALESCE((
		        SELECT category FROM source_items
		        WHERE cluster_id = $4 AND category <> ''
		        GROUP BY category
		        ORDER BY COUNT(*) DESC, category ASC
		        LIMIT 1
		    ), category)
		WHERE id = $4
	`, marshalStringList(keywords), marshalStringList(entities), score, id)
	if err != nil {
		return fmt.Errorf("cluster absorb: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cluster not found: %d", id)
	}
	return nil
}

// SetPublishedArticle links a cluster to its published article row.
func (s *ClusterStore) SetPublishedArticle(ctx context.Context, id, articleID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE clusters SET published_article_id = $1 WHERE id = $2
	`, articleID, id)
	if err != nil {
		return fmt.Errorf("cluster set published article: %w", err)
	}
	return nil
}
