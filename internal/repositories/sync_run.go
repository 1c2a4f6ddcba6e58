package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tally/internal/models"
	"github.com/desertthunder/tally/internal/shared"
)

// SyncRunRepository records the history of full sync runs.
type SyncRunRepository struct {
	db *sql.DB
}

// NewSyncRunRepository creates a new SyncRunRepository with the given database connection
func NewSyncRunRepository(db *sql.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Start inserts a running sync record.
func (r *SyncRunRepository) Start(ctx context.Context, startedAt time.Time) (*models.SyncRun, error) {
	sequence, err := NextSequence(ctx, r.db, "sync_runs")
	if err != nil {
		return nil, fmt.Errorf("failed to generate sequence: %w", err)
	}

	run := &models.SyncRun{
		ID:        shared.GenerateID(),
		Sequence:  sequence,
		Status:    models.SyncRunning,
		StartedAt: startedAt.UTC(),
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO sync_runs (id, sequence, status, started_at) VALUES (?, ?, ?, ?)",
		run.ID, run.Sequence, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sync run: %w", err)
	}
	return run, nil
}

// Finish writes the final status and counters of a run.
func (r *SyncRunRepository) Finish(ctx context.Context, run *models.SyncRun) error {
	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}

	query := `
		UPDATE sync_runs
		SET status = ?, playlists_processed = ?, tracks_iterated = ?, artist_link_ops = ?,
			failed_entries = ?, message = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		string(run.Status), run.PlaylistsProcessed, run.TracksIterated, run.ArtistLinkOps,
		run.FailedEntries, run.Message, *run.CompletedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync run %s: %w", run.ID, shared.ErrRecordNotFound)
	}
	return nil
}

// List returns the most recent runs first, at most limit of them (all when limit <= 0).
func (r *SyncRunRepository) List(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	query := `
		SELECT id, sequence, status, playlists_processed, tracks_iterated, artist_link_ops,
			failed_entries, message, started_at, completed_at
		FROM sync_runs
		ORDER BY sequence DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var (
			run       models.SyncRun
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Sequence, &status, &run.PlaylistsProcessed, &run.TracksIterated,
			&run.ArtistLinkOps, &run.FailedEntries, &run.Message, &run.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.Status = models.SyncRunStatus(status)
		if completed.Valid {
			run.CompletedAt = &completed.Time
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}
