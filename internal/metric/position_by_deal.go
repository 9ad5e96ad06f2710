package metric

import (
	"context"
	"fmt"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/store"
)

// PositionMetricByDeal is the position lifecycle rollup, grouped by
// (server, position_id). The opening leg (entry IN) pins the position's
// action, comment, digits, opening volume and open timestamps; every later
// leg accumulates commission, storage, profit and closed volume, and the
// remaining volume is derived.
type PositionMetricByDeal struct {
	Server          string      `json:"server"`
	Action          deal.Action `json:"action"`
	Comment         string      `json:"comment"`
	Commission      float64     `json:"commission"`
	DealID          int64       `json:"deal_id"`
	Digits          int32       `json:"digits"`
	DigitsCurrency  int32       `json:"digits_currency"`
	Login           int64       `json:"login"`
	PositionID      int64       `json:"position_id"`
	Price           float64     `json:"price"`
	PricePosition   float64     `json:"price_position"`
	PriceSL         float64     `json:"price_sl"`
	PriceTP         float64     `json:"price_tp"`
	Profit          float64     `json:"profit"`
	ProfitRaw       float64     `json:"profit_raw"`
	RateMargin      float64     `json:"rate_margin"`
	Storage         float64     `json:"storage"`
	Symbol          string      `json:"symbol"`
	TimestampUTC    int64       `json:"timestamp_utc"`
	TimestampServer int64       `json:"timestamp_server"`
	TimestampOpen   int64       `json:"timestamp_open"`
	TimestampOpenSrv int64      `json:"timestamp_open_server"`
	Volume          int64       `json:"volume"`
	VolumeClosed    int64       `json:"volume_closed"`
	VolumeExt       int64       `json:"volume_ext"`
	VolumeClosedExt int64       `json:"volume_closed_ext"`
	VolumeRemaining int64       `json:"volume_remaining"`
	VolumeRemainingExt int64    `json:"volume_remaining_ext"`
	NetProfit       float64     `json:"net_profit"`
}

func (m *PositionMetricByDeal) Key() store.Key {
	key, _ := PositionKey(m.Server, m.PositionID)
	return key
}

func (m *PositionMetricByDeal) Cursor() int64 { return m.DealID }

func (m *PositionMetricByDeal) AsOf() int64 { return m.TimestampUTC }

func PositionByDealSchema() Schema {
	return Schema{
		Name:      RollupPositionByDeal,
		StreamOut: true,
		Fields: []Field{
			{Name: "server", Role: RoleIdentity | RoleGrouping},
			{Name: "position_id", Role: RoleIdentity | RoleGrouping},
			{Name: "deal_id", Role: RoleIdentity},
			{Name: "action", Role: RoleValue},
			{Name: "comment", Role: RoleValue},
			{Name: "commission", Role: RoleValue},
			{Name: "digits", Role: RoleValue},
			{Name: "digits_currency", Role: RoleValue},
			{Name: "login", Role: RoleValue},
			{Name: "price", Role: RoleValue},
			{Name: "price_position", Role: RoleValue},
			{Name: "price_sl", Role: RoleValue},
			{Name: "price_tp", Role: RoleValue},
			{Name: "profit", Role: RoleValue},
			{Name: "profit_raw", Role: RoleValue},
			{Name: "rate_margin", Role: RoleValue},
			{Name: "storage", Role: RoleValue},
			{Name: "symbol", Role: RoleValue},
			{Name: "timestamp_utc", Role: RoleValue},
			{Name: "timestamp_server", Role: RoleValue},
			{Name: "timestamp_open", Role: RoleValue},
			{Name: "timestamp_open_server", Role: RoleValue},
			{Name: "volume", Role: RoleValue},
			{Name: "volume_closed", Role: RoleValue},
			{Name: "volume_ext", Role: RoleValue},
			{Name: "volume_closed_ext", Role: RoleValue},
			{Name: "volume_remaining", Role: RoleValue},
			{Name: "volume_remaining_ext", Role: RoleValue},
			{Name: "net_profit", Role: RoleValue},
		},
		NewRow: func() store.Row { return &PositionMetricByDeal{} },
	}
}

// PositionByDealCalculator folds deals into PositionMetricByDeal rows.
type PositionByDealCalculator struct{}

func NewPositionByDealCalculator() *PositionByDealCalculator { return &PositionByDealCalculator{} }

func (c *PositionByDealCalculator) Schema() Schema { return PositionByDealSchema() }

func (c *PositionByDealCalculator) GroupKey(d *deal.Deal) (store.Key, error) {
	// Cash movements never reference a position; they belong to the account
	// rollups only.
	if d.PositionID == 0 {
		return "", ErrSkipDeal
	}
	return PositionKey(d.Server, d.PositionID)
}

func (c *PositionByDealCalculator) Zero(key store.Key) store.Row {
	m := &PositionMetricByDeal{}
	seedPositionKey(key, &m.Server, &m.PositionID)
	return m
}

func (c *PositionByDealCalculator) Transition(ctx context.Context, d *deal.Deal, prevRow store.Row, _ Aux) (store.Row, error) {
	prev, ok := prevRow.(*PositionMetricByDeal)
	if !ok {
		return nil, fmt.Errorf("previous state is %T, want *PositionMetricByDeal", prevRow)
	}

	opening := d.Entry == deal.EntryIn

	m := &PositionMetricByDeal{
		Server:          d.Server,
		DealID:          d.DealID,
		DigitsCurrency:  d.DigitsCurrency,
		Login:           d.Login,
		PositionID:      d.PositionID,
		Price:           d.Price,
		PricePosition:   d.PricePosition,
		PriceSL:         d.PriceSL,
		PriceTP:         d.PriceTP,
		RateMargin:      d.RateMargin,
		Symbol:          d.Symbol,
		TimestampUTC:    d.TimestampUTC,
		TimestampServer: d.Timestamp,

		Commission:      prev.Commission + d.Commission,
		Profit:          prev.Profit + d.Profit,
		ProfitRaw:       prev.ProfitRaw + d.ProfitRaw,
		Storage:         prev.Storage + d.Storage,
		VolumeClosed:    prev.VolumeClosed + d.VolumeClosed,
		VolumeClosedExt: prev.VolumeClosedExt + d.VolumeClosedExt,
	}

	if opening {
		m.Action = d.Action
		m.Comment = d.Comment
		m.Digits = d.Digits
		m.TimestampOpen = d.TimestampUTC
		m.TimestampOpenSrv = d.Timestamp
		m.Volume = d.Volume
		m.VolumeExt = d.VolumeExt
	} else {
		m.Action = prev.Action
		m.Comment = prev.Comment
		m.Digits = prev.Digits
		m.TimestampOpen = prev.TimestampOpen
		m.TimestampOpenSrv = prev.TimestampOpenSrv
		m.Volume = prev.Volume
		m.VolumeExt = prev.VolumeExt
	}

	m.VolumeRemaining = m.Volume - m.VolumeClosed
	m.VolumeRemainingExt = m.VolumeExt - m.VolumeClosedExt
	m.NetProfit = m.Profit + m.Commission + m.Storage

	return m, nil
}
