// Package metric declares the rollup state types, their static schema
// descriptors, and the transition functions that fold deals into state.
package metric

import (
	"context"
	"errors"
	"fmt"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/store"
)

// ErrSkipDeal is returned by GroupKey when a deal simply does not belong to
// a rollup (e.g. a cash deal with no position for the position rollup). The
// engine drops the deal for that rollup; it is not a batch failure.
var ErrSkipDeal = errors.New("deal not applicable to this rollup")

// Role flags a field's part in a rollup's identity, grouping, or
// day-boundary carry pair.
type Role uint8

const (
	// RoleValue is a plain accumulator field.
	RoleValue Role = 0
	// RoleIdentity marks a field of the dedup identity key.
	RoleIdentity Role = 1 << iota
	// RoleGrouping marks a field of the partition grouping key.
	RoleGrouping
	// RoleCarry marks a "yesterday" field that re-baselines only when the
	// deal's calendar date exceeds the previous state's date.
	RoleCarry
)

// Field is one declared column of a rollup's emitted row.
type Field struct {
	Name string
	Role Role
}

// Schema is the static descriptor of a rollup: its name (store routing key),
// ordered field list with role flags, stream-out flag, and row factory. The
// generic engine interprets the descriptor instead of reflecting over state
// types.
type Schema struct {
	Name      string
	Fields    []Field
	StreamOut bool
	NewRow    store.RowFactory
}

// GroupingFields returns the names of the grouping-key fields, in order.
func (s Schema) GroupingFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Role&RoleGrouping != 0 {
			out = append(out, f.Name)
		}
	}
	return out
}

// IdentityFields returns the names of the dedup identity fields, in order.
func (s Schema) IdentityFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Role&RoleIdentity != 0 {
			out = append(out, f.Name)
		}
	}
	return out
}

// Rollup names, used for store routing and output subjects.
const (
	RollupAccountDaily   = "account_metric_daily"
	RollupAccountByDeal  = "account_metric_by_deal"
	RollupSymbolByDeal   = "account_symbol_metric_by_deal"
	RollupPositionByDeal = "position_metric_by_deal"
	RollupDailySnapshot  = "deal_daily"
)

// Aux provides read-only as-of lookups into other rollups' stores during a
// transition (e.g. the yesterday balance/equity snapshot).
type Aux interface {
	AsOf(ctx context.Context, rollup string, key store.Key, unix int64) (store.Row, error)
}

// Calculator pairs a rollup's schema with its transition function and
// grouping policy. Implementations must be pure: the next state depends only
// on (deal, previous state, aux lookups).
type Calculator interface {
	// Schema returns the rollup's static descriptor.
	Schema() Schema

	// GroupKey derives the partition key from a deal. A deal missing a
	// required grouping field is malformed input and fails the batch;
	// ErrSkipDeal excludes the deal from this rollup without failing.
	GroupKey(d *deal.Deal) (store.Key, error)

	// Zero synthesizes the default state for a key seen for the first time:
	// every accumulator at its type's zero value, seeded with the key fields.
	Zero(key store.Key) store.Row

	// Transition folds one deal into the previous state.
	Transition(ctx context.Context, d *deal.Deal, prev store.Row, aux Aux) (store.Row, error)
}

// AccountKey builds the (server, login) grouping key.
func AccountKey(server string, login int64) (store.Key, error) {
	if server == "" {
		return "", fmt.Errorf("grouping field server is empty")
	}
	if login == 0 {
		return "", fmt.Errorf("grouping field login is zero")
	}
	return store.Key(fmt.Sprintf("server:%s|login:%d", server, login)), nil
}

// PositionKey builds the (server, position_id) grouping key.
func PositionKey(server string, positionID int64) (store.Key, error) {
	if server == "" {
		return "", fmt.Errorf("grouping field server is empty")
	}
	if positionID == 0 {
		return "", fmt.Errorf("grouping field position_id is zero")
	}
	return store.Key(fmt.Sprintf("server:%s|position:%d", server, positionID)), nil
}

// LoginKey builds the login-scoped key of the daily snapshot entity.
func LoginKey(login int64) store.Key {
	return store.Key(fmt.Sprintf("login:%d", login))
}

// Registry returns every rollup schema by name. The store backends use it to
// decode persisted rows; the publisher uses it for stream-out routing.
func Registry() map[string]Schema {
	schemas := []Schema{
		DailyAccountSchema(),
		AccountByDealSchema(),
		SymbolByDealSchema(),
		PositionByDealSchema(),
		DailySnapshotSchema(),
	}
	out := make(map[string]Schema, len(schemas))
	for _, s := range schemas {
		out[s.Name] = s
	}
	return out
}

// RowFactories projects the registry into the factory map the store
// backends consume.
func RowFactories() map[string]store.RowFactory {
	factories := make(map[string]store.RowFactory)
	for name, s := range Registry() {
		factories[name] = s.NewRow
	}
	return factories
}
