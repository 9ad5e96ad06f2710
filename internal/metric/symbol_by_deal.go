package metric

import (
	"context"
	"fmt"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/store"
)

// SymbolMetricByDeal is the per-deal symbol rollup, grouped by
// (server, login). Realized profit and trade counts accumulate on closing
// legs only; commission and storage accumulate on every deal.
type SymbolMetricByDeal struct {
	Server          string  `json:"server"`
	Login           int64   `json:"login"`
	DealID          int64   `json:"deal_id"`
	DealProfit      float64 `json:"deal_profit"`
	TimestampServer int64   `json:"timestamp_server"`
	TimestampUTC    int64   `json:"timestamp_utc"`
	Symbol          string  `json:"symbol"`
	TotalProfit     float64 `json:"total_profit"`
	TotalCommission float64 `json:"total_commission"`
	TotalStorage    float64 `json:"total_storage"`
	TotalTrades     int64   `json:"total_trades"`
}

func (m *SymbolMetricByDeal) Key() store.Key {
	key, _ := AccountKey(m.Server, m.Login)
	return key
}

func (m *SymbolMetricByDeal) Cursor() int64 { return m.DealID }

func (m *SymbolMetricByDeal) AsOf() int64 { return m.TimestampUTC }

func SymbolByDealSchema() Schema {
	return Schema{
		Name:      RollupSymbolByDeal,
		StreamOut: true,
		Fields: []Field{
			{Name: "server", Role: RoleIdentity | RoleGrouping},
			{Name: "login", Role: RoleIdentity | RoleGrouping},
			{Name: "deal_id", Role: RoleIdentity},
			{Name: "deal_profit", Role: RoleValue},
			{Name: "timestamp_server", Role: RoleValue},
			{Name: "timestamp_utc", Role: RoleValue},
			{Name: "symbol", Role: RoleValue},
			{Name: "total_profit", Role: RoleValue},
			{Name: "total_commission", Role: RoleValue},
			{Name: "total_storage", Role: RoleValue},
			{Name: "total_trades", Role: RoleValue},
		},
		NewRow: func() store.Row { return &SymbolMetricByDeal{} },
	}
}

// SymbolByDealCalculator folds deals into SymbolMetricByDeal rows.
type SymbolByDealCalculator struct{}

func NewSymbolByDealCalculator() *SymbolByDealCalculator { return &SymbolByDealCalculator{} }

func (c *SymbolByDealCalculator) Schema() Schema { return SymbolByDealSchema() }

func (c *SymbolByDealCalculator) GroupKey(d *deal.Deal) (store.Key, error) {
	return AccountKey(d.Server, d.Login)
}

func (c *SymbolByDealCalculator) Zero(key store.Key) store.Row {
	m := &SymbolMetricByDeal{}
	seedAccountKey(key, &m.Server, &m.Login)
	return m
}

func (c *SymbolByDealCalculator) Transition(ctx context.Context, d *deal.Deal, prevRow store.Row, _ Aux) (store.Row, error) {
	prev, ok := prevRow.(*SymbolMetricByDeal)
	if !ok {
		return nil, fmt.Errorf("previous state is %T, want *SymbolMetricByDeal", prevRow)
	}

	closing := d.Action.IsTrade() && d.Entry.IsClose()

	m := &SymbolMetricByDeal{
		Server:          d.Server,
		Login:           d.Login,
		DealID:          d.DealID,
		TimestampServer: d.Timestamp,
		TimestampUTC:    d.TimestampUTC,
		Symbol:          d.Symbol,
		TotalProfit:     prev.TotalProfit,
		TotalCommission: prev.TotalCommission + d.Commission,
		TotalStorage:    prev.TotalStorage + d.Storage,
		TotalTrades:     prev.TotalTrades,
	}
	if closing {
		m.DealProfit = d.Profit
		m.TotalProfit += d.Profit
		m.TotalTrades++
	}
	return m, nil
}
