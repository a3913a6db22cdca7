package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SourceItem is one headline pulled from a publisher feed. URL holds the
// canonical form; the raw link is not kept.
type SourceItem struct {
	ID          uuid.UUID  `json:"id"`
	URL         string     `json:"url"`
	GUID        string     `json:"guid,omitempty"`
	Source      string     `json:"source"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	FullText    string     `json:"full_text,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	ImageWidth  int        `json:"image_width,omitempty"`
	ImageHeight int        `json:"image_height,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Score       *int       `json:"score,omitempty"`
	Category    string     `json:"category,omitempty"`
	Emoji       string     `json:"emoji,omitempty"`
	Approved    bool       `json:"approved"`
	Consumed    bool       `json:"consumed"`
	ClusterID   *int64     `json:"cluster_id,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	LowText     bool       `json:"low_text"`
}

// IsDuplicate reports whether err is a unique-constraint violation, the
// store-level signal that an equivalent item already exists.
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// scannable is an interface for pgx Row and Rows.
type scannable interface {
	Scan(dest ...any) error
}

const itemColumns = `id, url, guid, source, title, description, full_text,
	       image_url, image_width, image_height, author, published_at,
	       fetched_at, score, category, emoji, approved, consumed,
	       cluster_id, fingerprint, low_text`

// ItemStore provides data access methods for source items.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

func scanItemFromRow(row scannable) *SourceItem {
	var it SourceItem
	var fullText *string
	if err := row.Scan(
		&it.ID, &it.URL, &it.GUID, &it.Source, &it.Title, &it.Description,
		&fullText, &it.ImageURL, &it.ImageWidth, &it.ImageHeight, &it.Author,
		&it.PublishedAt, &it.FetchedAt, &it.Score, &it.Category, &it.Emoji,
		&it.Approved, &it.Consumed, &it.ClusterID, &it.Fingerprint, &it.LowText,
	); err != nil {
		return nil
	}
	if fullText != nil {
		it.FullText = *fullText
	}
	return &it
}

// Exists checks the three dedup keys at once: canonical URL, per-source feed
// GUID, and content fingerprint.
func (s *ItemStore) Exists(ctx context.Context, url, source, guid, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM source_items
			WHERE url = $1
			   OR fingerprint = $2
			   OR (($3 <> '') AND source = $4 AND guid = $3)
		)
	`, url, fingerprint, guid, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("item exists: %w", err)
	}
	return exists, nil
}

// Create inserts a new source item. The ID is generated if unset; FetchedAt
// comes back from the database. Unique violations surface as-is so callers
// can test them with IsDuplicate.
func (s *ItemStore) Create(ctx context.Context, it *SourceItem) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO source_items (id, url, guid, source, title, description,
		                          image_url, image_width, image_height, author,
		                          published_at, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING fetched_at
	`,
		it.ID, it.URL, it.GUID, it.Source, it.Title, it.Description,
		it.ImageURL, it.ImageWidth, it.ImageHeight, it.Author,
		it.PublishedAt, it.Fingerprint,
	).Scan(&it.FetchedAt)
	if err != nil {
		if IsDuplicate(err) {
			return err
		}
		return fmt.Errorf("item create: %w", err)
	}
	return nil
}

// ListUnscored returns items no scoring verdict has been recorded for yet.
// Items without an image never surface here: they are kept but not scored,
// so they cannot be approved and cost no model calls.
func (s *ItemStore) ListUnscored(ctx context.Context, limit int) ([]SourceItem, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM source_items
		WHERE score IS NULL AND image_url <> ''
		ORDER BY published_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("item list unscored: %w", err)
	}
	defer rows.Close()

	var items []SourceItem
	for rows.Next() {
		it := scanItemFromRow(rows)
		if it == nil {
			return nil, fmt.Errorf("item list unscored scan: failed")
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// SetScore records the scoring verdict for an item.
func (s *ItemStore) SetScore(ctx context.Context, id uuid.UUID, score int, category, emoji string, approved bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE source_items
		SET score = $1, category = $2, emoji = $3, approved = $4
		WHERE id = $5
	`, score, category, emoji, approved, id)
	if err != nil {
		return fmt.Errorf("item set score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item not found: %s", id)
	}
	return nil
}

// ListUnclustered returns approved items not yet attached to any cluster.
// Items deferred by an earlier cycle show up here again.
func (s *ItemStore) ListUnclustered(ctx context.Context) ([]SourceItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM source_items
		WHERE approved AND NOT consumed AND cluster_id IS NULL
		ORDER BY published_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("item list unclustered: %w", err)
	}
	defer rows.Close()

	var items []SourceItem
	for rows.Next() {
		it := scanItemFromRow(rows)
		if it == nil {
			return nil, fmt.Errorf("item list unclustered scan: failed")
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// ListPendingClusterIDs returns the active clusters still carrying
// unconsumed members. These are clusters with work outstanding: a publish
// that has not happened yet, or members attached since the last one.
func (s *ItemStore) ListPendingClusterIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT si.cluster_id
		FROM source_items si
		JOIN clusters c ON c.id = si.cluster_id
		WHERE NOT si.consumed AND si.cluster_id IS NOT NULL AND c.status = $1
		ORDER BY si.cluster_id
	`, ClusterActive)
	if err != nil {
		return nil, fmt.Errorf("item list pending clusters: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("item list pending clusters scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AttachToCluster binds an item to a cluster. The WHERE guard makes the
// operation first-writer-wins when two matchers race over the same item.
func (s *ItemStore) AttachToCluster(ctx context.Context, id uuid.UUID, clusterID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE source_items SET cluster_id = $1
		WHERE id = $2 AND cluster_id IS NULL
	`, clusterID, id)
	if err != nil {
		return false, fmt.Errorf("item attach: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByCluster returns all members of a cluster ordered by descending score,
// ties broken by earlier publication.
func (s *ItemStore) ListByCluster(ctx context.Context, clusterID int64) ([]SourceItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM source_items
		WHERE cluster_id = $1
		ORDER BY score DESC NULLS LAST, published_at ASC
	`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("item list by cluster: %w", err)
	}
	defer rows.Close()

	var items []SourceItem
	for rows.Next() {
		it := scanItemFromRow(rows)
		if it == nil {
			return nil, fmt.Errorf("item list by cluster scan: failed")
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// SetFullText stores the resolved article text and whether it fell back to
// the feed description.
func (s *ItemStore) SetFullText(ctx context.Context, id uuid.UUID, text string, lowText bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE source_items SET full_text = $1, low_text = $2 WHERE id = $3
	`, text, lowText, id)
	if err != nil {
		return fmt.Errorf("item set full text: %w", err)
	}
	return nil
}

// MarkConsumed flags the given items as folded into a published article.
func (s *ItemStore) MarkConsumed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE source_items SET consumed = TRUE WHERE id = ANY($1::uuid[])
	`, strs)
	if err != nil {
		return fmt.Errorf("item mark consumed: %w", err)
	}
	return nil
}
