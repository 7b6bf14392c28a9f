package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp-sync/internal/types"
	"github.com/jackc/pgx/v5"
)

// StagedItem is one fetched entity payload awaiting application on the
// destination side of a sync run.
type StagedItem struct {
	ExternalID string
	Payload    json.RawMessage
}

// StagingRepository persists fetched batch payloads. Items are keyed by
// (entity, direction, external id); re-staging an unchanged payload is a
// no-op so callers can tell real changes from duplicates.
type StagingRepository struct {
	db *PostgresDB
}

// NewStagingRepository creates a new staging repository
func NewStagingRepository(db *PostgresDB) *StagingRepository {
	return &StagingRepository{db: db}
}

// UpsertBatch stages a batch of items and returns how many were inserted or
// materially changed. Items whose payload is identical to the stored one are
// skipped.
func (r *StagingRepository) UpsertBatch(ctx context.Context, entity types.EntityType, direction types.SyncDirection, items []StagedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO staged_items (entity, direction, external_id, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity, direction, external_id)
		DO UPDATE SET payload = EXCLUDED.payload,
		              updated_at = EXCLUDED.updated_at
		WHERE staged_items.payload IS DISTINCT FROM EXCLUDED.payload
	`

	now := time.Now()
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query, string(entity), string(direction), item.ExternalID, []byte(item.Payload), now)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	changed := 0
	for range items {
		tag, err := results.Exec()
		if err != nil {
			return changed, fmt.Errorf("failed to stage item: %w", err)
		}
		changed += int(tag.RowsAffected())
	}

	return changed, nil
}

// CountStaged returns the number of staged items for a pair
func (r *StagingRepository) CountStaged(ctx context.Context, entity types.EntityType, direction types.SyncDirection) (int, error) {
	query := `
		SELECT count(*)
		FROM staged_items
		WHERE entity = $1 AND direction = $2
	`

	var count int
	err := r.db.Pool().QueryRow(ctx, query, string(entity), string(direction)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count staged items: %w", err)
	}

	return count, nil
}

// PruneStaged deletes staged items not updated within maxAge and returns how
// many rows were removed.
func (r *StagingRepository) PruneStaged(ctx context.Context, maxAge time.Duration) (int, error) {
	query := `DELETE FROM staged_items WHERE updated_at < $1`

	tag, err := r.db.Pool().Exec(ctx, query, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune staged items: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
