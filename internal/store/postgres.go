package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// RowFactory produces an empty row of a rollup's state type so the store can
// decode a persisted payload. Factories are supplied by the rollup registry;
// the store itself knows nothing about individual field sets.
type RowFactory func() Row

// PostgresStore implements Store on a single append-only metric_state table.
// Rows are serialized to JSONB with the routing identity (rollup, key,
// cursor) and as-of timestamp broken out into indexed columns. Appends use
// multi-row INSERT with ON CONFLICT DO NOTHING, so redelivered batches are
// idempotent at the storage layer as well as in the engine.
type PostgresStore struct {
	db        *sql.DB
	factories map[string]RowFactory
}

// NewPostgresStore creates a Postgres-backed store. factories maps rollup
// name to its row factory; lookups for an unregistered rollup fail loudly
// rather than returning an undecodable row.
func NewPostgresStore(db *sql.DB, factories map[string]RowFactory) *PostgresStore {
	return &PostgresStore{db: db, factories: factories}
}

func (s *PostgresStore) GetLatest(ctx context.Context, rollup string, key Key) (Row, error) {
	const q = `SELECT payload FROM metric_state
		WHERE rollup = $1 AND grouping_key = $2
		ORDER BY cursor DESC LIMIT 1`
	return s.queryRow(ctx, rollup, q, rollup, string(key))
}

func (s *PostgresStore) GetAsOf(ctx context.Context, rollup string, key Key, unix int64) (Row, error) {
	const q = `SELECT payload FROM metric_state
		WHERE rollup = $1 AND grouping_key = $2 AND as_of <= $3
		ORDER BY as_of DESC, cursor DESC LIMIT 1`
	return s.queryRow(ctx, rollup, q, rollup, string(key), unix)
}

func (s *PostgresStore) queryRow(ctx context.Context, rollup, query string, args ...interface{}) (Row, error) {
	factory, ok := s.factories[rollup]
	if !ok {
		return nil, fmt.Errorf("store: no row factory registered for rollup %q", rollup)
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil // absence is zero state, never an error
	}
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", rollup, err)
	}

	row := factory()
	if err := json.Unmarshal(payload, row); err != nil {
		return nil, fmt.Errorf("store: decode %s row: %w", rollup, err)
	}
	return row, nil
}

func (s *PostgresStore) Append(ctx context.Context, rollup string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO metric_state (rollup, grouping_key, cursor, as_of, payload) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("store: encode %s row key=%s cursor=%d: %w",
				rollup, row.Key(), row.Cursor(), err)
		}
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, rollup, string(row.Key()), row.Cursor(), row.AsOf(), payload)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (rollup, grouping_key, cursor) DO NOTHING"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: append %d rows to %s: %w", len(rows), rollup, err)
	}
	return nil
}
