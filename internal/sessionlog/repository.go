package sessionlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gaslight/leakview/internal/models"
)

// Repository handles the attempts table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attempt history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts a finished attempt. Recording the same attempt twice is a no-op.
func (r *Repository) Record(ctx context.Context, a *models.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, session_id, file_name, file_size, state, failure_kind, failure_message, interval_count, result_url, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.SessionID, a.FileName, a.FileSize, a.State, a.FailureKind, a.FailureMessage, a.IntervalCount, a.ResultURL, a.StartedAt, a.FinishedAt)
	return err
}

// ListBySession returns attempts for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, file_name, file_size, state, failure_kind, failure_message, interval_count,
		        result_url, archive_url, archive_key, started_at, finished_at, archived_at, created_at
		 FROM attempts WHERE session_id = $1 ORDER BY started_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.SessionID, &a.FileName, &a.FileSize, &a.State, &a.FailureKind, &a.FailureMessage, &a.IntervalCount,
			&a.ResultURL, &a.ArchiveURL, &a.ArchiveKey, &a.StartedAt, &a.FinishedAt, &a.ArchivedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// UpdateArchive stores where the result video was archived.
func (r *Repository) UpdateArchive(ctx context.Context, attemptID uuid.UUID, url, key string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts SET archive_url = $2, archive_key = $3, archived_at = $4 WHERE id = $1`,
		attemptID, url, key, time.Now())
	return err
}
