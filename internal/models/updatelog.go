package models

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Update triggers recorded in the article update log.
const (
	// TriggerInitial marks the first publication of a cluster.
	TriggerInitial = "initial"
	// TriggerHighScore fires when a newly attached member scores at or above
	// the high-score bar.
	TriggerHighScore = "new_high_score"
	// TriggerVolume fires when enough new members arrive since the last
	// publication.
	TriggerVolume = "volume"
)

// ArticleUpdate is one audit entry for a re-published article.
type ArticleUpdate struct {
	ID           int64     `json:"id"`
	ArticleID    int64     `json:"article_id"`
	UpdatedAt    time.Time `json:"updated_at"`
	Trigger      string    `json:"trigger"`
	SourcesAdded int       `json:"sources_added"`
	PrevVersion  int       `json:"prev_version"`
	NewVersion   int       `json:"new_version"`
}

// UpdateLogStore provides data access methods for the article update log.
type UpdateLogStore struct {
	pool *pgxpool.Pool
}

// NewUpdateLogStore creates a new UpdateLogStore.
func NewUpdateLogStore(pool *pgxpool.Pool) *UpdateLogStore {
	return &UpdateLogStore{pool: pool}
}

// Record appends an update entry.
func (s *UpdateLogStore) Record(ctx context.Context, u *ArticleUpdate) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO article_updates_log (article_id, trigger, sources_added,
		                                 prev_version, new_version)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, updated_at
	`, u.ArticleID, u.Trigger, u.SourcesAdded, u.PrevVersion, u.NewVersion,
	).Scan(&u.ID, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update log record: %w", err)
	}
	return nil
}
