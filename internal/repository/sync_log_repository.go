package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncRecord is one replay pass
type SyncRecord struct {
	ID           int64
	Mode         string
	Outcome      string
	Succeeded    int
	Remaining    int
	DeadLettered int
	Message      string
	CreatedAt    time.Time
}

type SyncLogRepository struct {
	db *sql.DB
}

func NewSyncLogRepository(db *sql.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

func (r *SyncLogRepository) Create(ctx context.Context, rec *SyncRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_log (mode, outcome, succeeded, remaining, dead_lettered, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		rec.Mode,
		rec.Outcome,
		rec.Succeeded,
		rec.Remaining,
		rec.DeadLettered,
		rec.Message,
		rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}
	return nil
}

// Recent returns the latest passes, newest first
func (r *SyncLogRepository) Recent(ctx context.Context, limit int) ([]*SyncRecord, error) {
	query := `
		SELECT id, mode, outcome, succeeded, remaining, dead_lettered, message, created_at
		FROM sync_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var records []*SyncRecord
	for rows.Next() {
		var rec SyncRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Mode,
			&rec.Outcome,
			&rec.Succeeded,
			&rec.Remaining,
			&rec.DeadLettered,
			&rec.Message,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes records created before cutoff
func (r *SyncLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync log: %w", err)
	}
	return result.RowsAffected()
}
