package metric

import (
	"context"
	"fmt"
	"math"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/store"
)

// DailyAccountMetric is the canonical daily rollup, grouped by
// (server, login). Every "yesterday_*" field is the carry half of a pair:
// it re-baselines from its running counterpart only when the absorbed deal's
// calendar date is strictly after the state's date.
type DailyAccountMetric struct {
	Server          string    `json:"server"`
	Login           int64     `json:"login"`
	Date            deal.Date `json:"date"`
	DealID          int64     `json:"deal_id"`
	TimestampServer int64     `json:"timestamp_server"`
	TimestampUTC    int64     `json:"timestamp_utc"`

	Balance          float64 `json:"balance"`
	MaxBalanceEquity float64 `json:"max_balance_equity"`

	NetDeposit          float64 `json:"net_deposit"`
	YesterdayNetDeposit float64 `json:"yesterday_net_deposit"`
	DailyNetDeposit     float64 `json:"daily_net_deposit"`

	ProfitLoss             float64 `json:"profit_loss"`
	YesterdayNetProfitLoss float64 `json:"yesterday_net_profit_loss"`
	DailyProfitLoss        float64 `json:"daily_profit_loss"`

	LastOpenTradeTimestamp         int64 `json:"last_open_trade_timestamp"`
	TradingDays                    int64 `json:"trading_days"`
	YesterdayProfitableTradingDays int64 `json:"yesterday_profitable_trading_days"`
	ProfitableTradingDays          int64 `json:"profitable_trading_days"`

	TotalDeposit    float64 `json:"total_deposit"`
	TotalWithdrawal float64 `json:"total_withdrawal"`

	CountTrades       int64   `json:"count_trades"`
	CountLongTrades   int64   `json:"count_long_trades"`
	CountProfitTrades int64   `json:"count_profit_trades"`
	CountLossTrades   int64   `json:"count_loss_trades"`
	GrossProfit       float64 `json:"gross_profit"`
	GrossLoss         float64 `json:"gross_loss"`
	WinsRatio         float64 `json:"wins_ratio"`
	LossesRatio       float64 `json:"losses_ratio"`
	TotalVolume       float64 `json:"total_volume"`
	BestTrade         float64 `json:"best_trade"`
	WorstTrade        float64 `json:"worst_trade"`
	AverageWin        float64 `json:"average_win"`
	AverageLoss       float64 `json:"average_loss"`
}

func (m *DailyAccountMetric) Key() store.Key {
	key, _ := AccountKey(m.Server, m.Login)
	return key
}

func (m *DailyAccountMetric) Cursor() int64 { return m.DealID }

func (m *DailyAccountMetric) AsOf() int64 { return m.TimestampUTC }

// DailyAccountSchema declares the daily rollup's field roles. Grouping is
// (server, login); dedup identity is (server, login, deal_id); the
// yesterday fields carry across day boundaries.
func DailyAccountSchema() Schema {
	return Schema{
		Name: RollupAccountDaily,
		Fields: []Field{
			{Name: "server", Role: RoleIdentity | RoleGrouping},
			{Name: "login", Role: RoleIdentity | RoleGrouping},
			{Name: "date", Role: RoleValue},
			{Name: "deal_id", Role: RoleIdentity},
			{Name: "timestamp_server", Role: RoleValue},
			{Name: "timestamp_utc", Role: RoleValue},
			{Name: "balance", Role: RoleValue},
			{Name: "max_balance_equity", Role: RoleValue},
			{Name: "net_deposit", Role: RoleValue},
			{Name: "yesterday_net_deposit", Role: RoleCarry},
			{Name: "daily_net_deposit", Role: RoleValue},
			{Name: "profit_loss", Role: RoleValue},
			{Name: "yesterday_net_profit_loss", Role: RoleCarry},
			{Name: "daily_profit_loss", Role: RoleValue},
			{Name: "last_open_trade_timestamp", Role: RoleValue},
			{Name: "trading_days", Role: RoleValue},
			{Name: "yesterday_profitable_trading_days", Role: RoleCarry},
			{Name: "profitable_trading_days", Role: RoleValue},
			{Name: "total_deposit", Role: RoleValue},
			{Name: "total_withdrawal", Role: RoleValue},
			{Name: "count_trades", Role: RoleValue},
			{Name: "count_long_trades", Role: RoleValue},
			{Name: "count_profit_trades", Role: RoleValue},
			{Name: "count_loss_trades", Role: RoleValue},
			{Name: "gross_profit", Role: RoleValue},
			{Name: "gross_loss", Role: RoleValue},
			{Name: "wins_ratio", Role: RoleValue},
			{Name: "losses_ratio", Role: RoleValue},
			{Name: "total_volume", Role: RoleValue},
			{Name: "best_trade", Role: RoleValue},
			{Name: "worst_trade", Role: RoleValue},
			{Name: "average_win", Role: RoleValue},
			{Name: "average_loss", Role: RoleValue},
		},
		NewRow: func() store.Row { return &DailyAccountMetric{} },
	}
}

// DailyAccountCalculator folds deals into DailyAccountMetric rows.
type DailyAccountCalculator struct{}

func NewDailyAccountCalculator() *DailyAccountCalculator { return &DailyAccountCalculator{} }

func (c *DailyAccountCalculator) Schema() Schema { return DailyAccountSchema() }

func (c *DailyAccountCalculator) GroupKey(d *deal.Deal) (store.Key, error) {
	return AccountKey(d.Server, d.Login)
}

func (c *DailyAccountCalculator) Zero(key store.Key) store.Row {
	m := &DailyAccountMetric{}
	seedAccountKey(key, &m.Server, &m.Login)
	return m
}

func (c *DailyAccountCalculator) Transition(ctx context.Context, d *deal.Deal, prevRow store.Row, aux Aux) (store.Row, error) {
	prev, ok := prevRow.(*DailyAccountMetric)
	if !ok {
		return nil, fmt.Errorf("previous state is %T, want *DailyAccountMetric", prevRow)
	}

	yesterday, err := yesterdaySnapshot(ctx, aux, d.Login, d.Date())
	if err != nil {
		return nil, err
	}

	m := &DailyAccountMetric{
		Server:          d.Server,
		Login:           d.Login,
		Date:            d.Date(),
		DealID:          d.DealID,
		TimestampServer: d.Timestamp,
		TimestampUTC:    d.TimestampUTC,
	}

	newDay := m.Date > prev.Date
	bootstrap := d.IsBootstrap()
	closing := d.Action.IsTrade() && d.Entry.IsClose()

	m.Balance = prev.Balance + d.Profit
	m.MaxBalanceEquity = math.Max(yesterday.Balance, yesterday.ProfitEquity)

	m.NetDeposit = prev.NetDeposit
	if d.Action == deal.ActionBalance && !bootstrap {
		m.NetDeposit += d.Profit
	}
	m.YesterdayNetDeposit = prev.YesterdayNetDeposit
	if newDay {
		m.YesterdayNetDeposit = prev.NetDeposit
	}
	m.DailyNetDeposit = m.NetDeposit - m.YesterdayNetDeposit

	m.ProfitLoss = prev.ProfitLoss
	if !d.Action.IsAdjustment() {
		m.ProfitLoss += d.NetProfit()
	}
	m.YesterdayNetProfitLoss = prev.YesterdayNetProfitLoss
	if newDay {
		m.YesterdayNetProfitLoss = prev.ProfitLoss
	}
	m.DailyProfitLoss = m.ProfitLoss - m.YesterdayNetProfitLoss

	m.LastOpenTradeTimestamp = prev.LastOpenTradeTimestamp
	if d.Action.IsTrade() && d.Entry == deal.EntryIn {
		m.LastOpenTradeTimestamp = d.Timestamp
	}
	m.TradingDays = prev.TradingDays
	if deal.DateOfUnix(prev.LastOpenTradeTimestamp) < deal.DateOfUnix(m.LastOpenTradeTimestamp) {
		m.TradingDays++
	}

	m.YesterdayProfitableTradingDays = prev.YesterdayProfitableTradingDays
	if newDay {
		m.YesterdayProfitableTradingDays = prev.ProfitableTradingDays
	}
	m.ProfitableTradingDays = m.YesterdayProfitableTradingDays
	if m.DailyProfitLoss > 0 {
		m.ProfitableTradingDays++
	}

	m.TotalDeposit = prev.TotalDeposit
	if d.Action == deal.ActionBalance && d.Profit > 0 && !bootstrap {
		m.TotalDeposit += d.Profit
	}
	m.TotalWithdrawal = prev.TotalWithdrawal
	if d.Action == deal.ActionBalance && d.Profit < 0 {
		m.TotalWithdrawal += d.Profit
	}

	// Trade statistics count realized (closing) legs only; opens only start
	// the trading-day clock above.
	m.CountTrades = prev.CountTrades
	m.CountLongTrades = prev.CountLongTrades
	m.CountProfitTrades = prev.CountProfitTrades
	m.CountLossTrades = prev.CountLossTrades
	m.GrossProfit = prev.GrossProfit
	m.GrossLoss = prev.GrossLoss
	m.TotalVolume = prev.TotalVolume
	m.BestTrade = prev.BestTrade
	m.WorstTrade = prev.WorstTrade
	if closing {
		m.CountTrades++
		if d.Action == deal.ActionBuy {
			m.CountLongTrades++
		}
		if d.Profit > 0 {
			m.CountProfitTrades++
			m.GrossProfit += d.Profit
		}
		if d.Profit < 0 {
			m.CountLossTrades++
			m.GrossLoss += d.Profit
		}
		m.TotalVolume += float64(d.Volume)
		if d.Profit > prev.BestTrade {
			m.BestTrade = d.Profit
		}
		if d.Profit < prev.WorstTrade {
			m.WorstTrade = d.Profit
		}
	}

	m.WinsRatio = safeRatio(float64(m.CountProfitTrades), float64(m.CountTrades))
	m.LossesRatio = safeRatio(float64(m.CountLossTrades), float64(m.CountTrades))
	m.AverageWin = safeRatio(m.GrossProfit, float64(m.CountProfitTrades))
	m.AverageLoss = safeRatio(m.GrossLoss, float64(m.CountLossTrades))

	return m, nil
}

// safeRatio divides guarding against a zero denominator: the result is
// exactly 0.0, never NaN or an error.
func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0.0
	}
	return num / den
}
