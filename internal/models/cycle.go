package models

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Cycle statuses.
const (
	// CycleRunning is set while a cycle is in flight.
	CycleRunning = "running"
	// CycleOK means the cycle finished with no recorded failures.
	CycleOK = "ok"
	// CyclePartial means the cycle finished but some work failed or was
	// deferred; error_text carries the first few failures.
	CyclePartial = "partial"
	// CycleFailed means the cycle aborted before reaching publish.
	CycleFailed = "failed"
)

// FetchCycle is the bookkeeping row for one pipeline run.
type FetchCycle struct {
	ID                int64      `json:"id"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	FeedsPolled       int        `json:"feeds_polled"`
	ItemsNew          int        `json:"items_new"`
	ItemsScored       int        `json:"items_scored"`
	ItemsApproved     int        `json:"items_approved"`
	ClustersAffected  int        `json:"clusters_affected"`
	ArticlesPublished int        `json:"articles_published"`
	Status            string     `json:"status"`
	ErrorText         string     `json:"error_text,omitempty"`
}

// CycleStore provides data access methods for fetch cycles.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Begin opens the bookkeeping row for a new cycle.
func (s *CycleStore) Begin(ctx context.Context) (*FetchCycle, error) {
	c := &FetchCycle{Status: CycleRunning}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO fetch_cycles (status) VALUES ($1)
		RETURNING id, started_at
	`, c.Status).Scan(&c.ID, &c.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("cycle begin: %w", err)
	}
	return c, nil
}

// Finish closes the cycle row with its final counters and status.
func (s *CycleStore) Finish(ctx context.Context, c *FetchCycle) error {
	var errText *string
	if c.ErrorText != "" {
		errText = &c.ErrorText
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE fetch_cycles
		SET finished_at = now(), feeds_polled = $1, items_new = $2,
		    items_scored = $3, items_approved = $4, clusters_affected = $5,
		    articles_published = $6, status = $7, error_text = $8
		WHERE id = $9
	`, c.FeedsPolled, c.ItemsNew, c.ItemsScored, c.ItemsApproved,
		c.ClustersAffected, c.ArticlesPublished, c.Status, errText, c.ID)
	if err != nil {
		return fmt.Errorf("cycle finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cycle not found: %d", c.ID)
	}
	return nil
}

// ListRecent returns the latest cycles, newest first.
func (s *CycleStore) ListRecent(ctx context.Context, limit int) ([]FetchCycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, feeds_polled, items_new,
		       items_scored, items_approved, clusters_affected,
		       articles_published, status, error_text
		FROM fetch_cycles
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("cycle list recent: %w", err)
	}
	defer rows.Close()

	var cycles []FetchCycle
	for rows.Next() {
		var c FetchCycle
		var errText *string
		if err := rows.Scan(
			&c.ID, &c.StartedAt, &c.FinishedAt, &c.FeedsPolled, &c.ItemsNew,
			&c.ItemsScored, &c.ItemsApproved, &c.ClustersAffected,
			&c.ArticlesPublished, &c.Status, &errText,
		); err != nil {
			return nil, fmt.Errorf("cycle list recent scan: %w", err)
		}
		if errText != nil {
			c.ErrorText = *errText
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
