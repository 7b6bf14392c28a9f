package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// OptionsRepository is a durable key-value options store over Postgres.
// Values are opaque JSON blobs; the autoload flag marks options that callers
// preload at startup, mirroring the semantics of the configuration store this
// service fronts.
type OptionsRepository struct {
	db *PostgresDB
}

// NewOptionsRepository creates a new options repository
func NewOptionsRepository(db *PostgresDB) *OptionsRepository {
	return &OptionsRepository{db: db}
}

// Get retrieves an option value by key. The second return value reports
// whether the key existed.
func (r *OptionsRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `
		SELECT option_value
		FROM options
		WHERE option_key = $1
	`

	var value []byte
	err := r.db.Pool().QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get option %q: %w", key, err)
	}

	return value, true, nil
}

// Set upserts an option value
func (r *OptionsRepository) Set(ctx context.Context, key string, value []byte, autoload bool) error {
	query := `
		INSERT INTO options (option_key, option_value, autoload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (option_key)
		DO UPDATE SET option_value = EXCLUDED.option_value,
		              autoload = EXCLUDED.autoload,
		              updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query, key, value, autoload, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set option %q: %w", key, err)
	}

	return nil
}

// Delete removes an option by key. Deleting a missing key is not an error.
func (r *OptionsRepository) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM options WHERE option_key = $1`

	_, err := r.db.Pool().Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete option %q: %w", key, err)
	}

	return nil
}

// GetAutoload returns all options flagged for preloading
func (r *OptionsRepository) GetAutoload(ctx context.Context) (map[string][]byte, error) {
	query := `
		SELECT option_key, option_value
		FROM options
		WHERE autoload = true
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query autoload options: %w", err)
	}
	defer rows.Close()

	options := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan option row: %w", err)
		}
		options[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read autoload options: %w", err)
	}

	return options, nil
}
