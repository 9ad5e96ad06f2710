// Package store defines the keyed state store backing every rollup.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for the latest-row hot path), and in-memory (tests, development).
package store

import (
	"context"
)

// Key identifies one independent aggregation partition. Keys are canonical
// path strings ("server:Demo|login:100") built by each rollup's schema so a
// store backing multiple rollup types routes by rollup name + key without
// cross-contamination.
type Key string

// Row is one emitted rollup state. Rows are immutable once appended;
// correcting history means replaying forward, not patching in place.
type Row interface {
	// Key returns the grouping-key path of the row.
	Key() Key

	// Cursor is the monotonic per-key absorption cursor: the deal id of the
	// most recently absorbed deal (or the date ordinal for daily snapshots).
	// A deal with id <= Cursor is never reapplied.
	Cursor() int64

	// AsOf is the Unix timestamp used for historical (as-of) lookups.
	AsOf() int64
}

// Store is the keyed state store contract. Absence is not an error: both
// lookup methods return (nil, nil) for an unseen key and callers treat that
// as zero state.
type Store interface {
	// GetLatest returns the most recent emitted row for a key.
	GetLatest(ctx context.Context, rollup string, key Key) (Row, error)

	// GetAsOf returns the most recent row for a key whose AsOf timestamp is
	// <= the given Unix timestamp. Used for cross-entity joins such as the
	// yesterday-snapshot lookup.
	GetAsOf(ctx context.Context, rollup string, key Key, unix int64) (Row, error)

	// Append durably appends rows. Append never overwrites: re-appending a
	// row with an existing (rollup, key, cursor) identity is a no-op, which
	// keeps writes idempotent under redelivery.
	Append(ctx context.Context, rollup string, rows []Row) error
}
