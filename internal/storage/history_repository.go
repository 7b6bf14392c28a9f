package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/types"
)

// HistoryRepository persists terminal sync-run records in ClickHouse.
// History is an append-only metrics sink: writes are best-effort from the
// caller's point of view (a failed history append never fails a sync run).
type HistoryRepository struct {
	db *ClickHouseDB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *ClickHouseDB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// EnsureSchema creates the history table if it does not exist. Called once
// at startup; ClickHouse DDL is idempotent here.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS sync_history (
			operation_id String,
			entity       LowCardinality(String),
			direction    LowCardinality(String),
			status       LowCardinality(String),
			items_synced Int32,
			errors       Int32,
			started_at   DateTime64(3),
			finished_at  DateTime64(3),
			duration_ms  Int64,
			detail       String
		)
		ENGINE = MergeTree()
		ORDER BY (finished_at, operation_id)
	`

	if err := r.db.Conn().Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure sync_history schema: %w", err)
	}

	return nil
}

// AddSyncHistory appends one record to the history sink
func (r *HistoryRepository) AddSyncHistory(ctx context.Context, record *models.SyncHistoryRecord) error {
	query := `
		INSERT INTO sync_history (
			operation_id, entity, direction, status, items_synced, errors,
			started_at, finished_at, duration_ms, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		record.OperationID,
		string(record.Entity),
		string(record.Direction),
		string(record.Status),
		int32(record.ItemsSynced),
		int32(record.Errors),
		record.StartedAt,
		record.FinishedAt,
		record.Duration.Milliseconds(),
		record.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync history: %w", err)
	}

	return nil
}

// GetSyncHistory returns the most recent records, newest first
func (r *HistoryRepository) GetSyncHistory(ctx context.Context, limit int) ([]*models.SyncHistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT operation_id, entity, direction, status, items_synced, errors,
		       started_at, finished_at, duration_ms, detail
		FROM sync_history
		ORDER BY finished_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var records []*models.SyncHistoryRecord
	for rows.Next() {
		var (
			record     models.SyncHistoryRecord
			entity     string
			direction  string
			status     string
			items      int32
			errCount   int32
			durationMS int64
		)

		if err := rows.Scan(
			&record.OperationID,
			&entity,
			&direction,
			&status,
			&items,
			&errCount,
			&record.StartedAt,
			&record.FinishedAt,
			&durationMS,
			&record.Detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync history row: %w", err)
		}

		record.Entity = types.EntityType(entity)
		record.Direction = types.SyncDirection(direction)
		record.Status = types.HistoryStatus(status)
		record.ItemsSynced = int(items)
		record.Errors = int(errCount)
		record.Duration = time.Duration(durationMS) * time.Millisecond

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync history: %w", err)
	}

	return records, nil
}

// CleanHistory deletes records older than maxAge and returns how many rows
// were targeted.
func (r *HistoryRepository) CleanHistory(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	countQuery := `SELECT count() FROM sync_history WHERE finished_at < ?`
	var count uint64
	if err := r.db.Conn().QueryRow(ctx, countQuery, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stale history: %w", err)
	}

	if count == 0 {
		return 0, nil
	}

	deleteQuery := `ALTER TABLE sync_history DELETE WHERE finished_at < ?`
	if err := r.db.Conn().Exec(ctx, deleteQuery, cutoff); err != nil {
		return 0, fmt.Errorf("failed to clean sync history: %w", err)
	}

	return int(count), nil
}
