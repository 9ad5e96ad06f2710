package metric

import (
	"context"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/store"
)

// DailySnapshot is the auxiliary end-of-day balance/equity entity, one row
// per (login, date). It is maintained by an external feed and consumed
// read-only for the yesterday-carry lookup of the account rollups.
type DailySnapshot struct {
	Server          string    `json:"server"`
	Login           int64     `json:"login"`
	Date            deal.Date `json:"date"`
	Group           string    `json:"group"`
	Datetime        int64     `json:"datetime"`
	Balance         float64   `json:"balance"`
	ProfitEquity    float64   `json:"profit_equity"`
	TimestampUTC    int64     `json:"timestamp_utc"`
	TimestampServer int64     `json:"timestamp_server"`
}

func (s *DailySnapshot) Key() store.Key { return LoginKey(s.Login) }

// Cursor for snapshots is the date ordinal: one row per login per day.
func (s *DailySnapshot) Cursor() int64 { return int64(s.Date) }

func (s *DailySnapshot) AsOf() int64 { return s.Date.StartUnix() }

// DailySnapshotSchema describes the snapshot entity. It has no calculator:
// rows pass through ingestion unchanged (strings decoded at the boundary)
// and are appended to the snapshot store.
func DailySnapshotSchema() Schema {
	return Schema{
		Name: RollupDailySnapshot,
		Fields: []Field{
			{Name: "server", Role: RoleValue},
			{Name: "login", Role: RoleIdentity | RoleGrouping},
			{Name: "date", Role: RoleIdentity},
			{Name: "group", Role: RoleValue},
			{Name: "datetime", Role: RoleValue},
			{Name: "balance", Role: RoleValue},
			{Name: "profit_equity", Role: RoleValue},
			{Name: "timestamp_utc", Role: RoleValue},
			{Name: "timestamp_server", Role: RoleValue},
		},
		NewRow: func() store.Row { return &DailySnapshot{} },
	}
}

// yesterdaySnapshot resolves the (login, date-1) balance/equity snapshot via
// an as-of lookup. Absence is not an error: a zero snapshot is returned, per
// the engine's missing-snapshot policy.
func yesterdaySnapshot(ctx context.Context, aux Aux, login int64, date deal.Date) (*DailySnapshot, error) {
	row, err := aux.AsOf(ctx, RollupDailySnapshot, LoginKey(login), date.Prev().EndUnix())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &DailySnapshot{Login: login}, nil
	}
	return row.(*DailySnapshot), nil
}
