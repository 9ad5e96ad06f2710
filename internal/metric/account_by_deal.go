package metric

import (
	"context"
	"fmt"
	"math"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/store"
)

// AccountMetricByDeal is the per-deal account rollup: one emitted row per
// absorbed deal, grouped by (server, login). It extends the daily rollup
// with per-deal fields (deal_profit, net_profit), bootstrap identifiers
// (initial_deposit, program_id) and the consistency-score family.
type AccountMetricByDeal struct {
	Server          string    `json:"server"`
	Login           int64     `json:"login"`
	DealID          int64     `json:"deal_id"`
	DealProfit      float64   `json:"deal_profit"`
	TimestampServer int64     `json:"timestamp_server"`
	TimestampUTC    int64     `json:"timestamp_utc"`
	Date            deal.Date `json:"date"`

	Balance          float64 `json:"balance"`
	MaxBalanceEquity float64 `json:"max_balance_equity"`

	NetDeposit          float64 `json:"net_deposit"`
	YesterdayNetDeposit float64 `json:"yesterday_net_deposit"`
	DailyNetDeposit     float64 `json:"daily_net_deposit"`

	ProfitLoss             float64 `json:"profit_loss"`
	ProfitGain             float64 `json:"profit_gain"`
	NetProfit              float64 `json:"net_profit"`
	YesterdayNetProfitLoss float64 `json:"yesterday_net_profit_loss"`
	DailyProfitLoss        float64 `json:"daily_profit_loss"`
	MaxDailyProfitLoss     float64 `json:"max_daily_profit_loss"`

	LastOpenTradeTimestamp         int64 `json:"last_open_trade_timestamp"`
	TradingDays                    int64 `json:"trading_days"`
	YesterdayProfitableTradingDays int64 `json:"yesterday_profitable_trading_days"`
	ProfitableTradingDays          int64 `json:"profitable_trading_days"`

	YesterdaySumProfitOnProfitableTradingDays float64 `json:"yesterday_sum_profit_on_profitable_trading_days"`
	SumProfitOnProfitableTradingDays          float64 `json:"sum_profit_on_profitable_trading_days"`
	YesterdayMaxProfitOnProfitableTradingDays float64 `json:"yesterday_max_profit_on_profitable_trading_days"`
	MaxProfitOnProfitableTradingDays          float64 `json:"max_profit_on_profitable_trading_days"`
	ConsistentScore                           float64 `json:"consistent_score"`

	TotalDeposit    float64 `json:"total_deposit"`
	TotalWithdrawal float64 `json:"total_withdrawal"`

	CountTrades       int64   `json:"count_trades"`
	CountLongTrades   int64   `json:"count_long_trades"`
	CountShortTrades  int64   `json:"count_short_trades"`
	ProfitLongTrades  float64 `json:"profit_long_trades"`
	ProfitShortTrades float64 `json:"profit_short_trades"`
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

	InitialDeposit float64 `json:"initial_deposit"`
	ProgramID      int64   `json:"program_id"`
}

func (m *AccountMetricByDeal) Key() store.Key {
	key, _ := AccountKey(m.Server, m.Login)
	return key
}

func (m *AccountMetricByDeal) Cursor() int64 { return m.DealID }

func (m *AccountMetricByDeal) AsOf() int64 { return m.TimestampUTC }

func AccountByDealSchema() Schema {
	return Schema{
		Name:      RollupAccountByDeal,
		StreamOut: true,
		Fields: []Field{
			{Name: "server", Role: RoleIdentity | RoleGrouping},
			{Name: "login", Role: RoleIdentity | RoleGrouping},
			{Name: "deal_id", Role: RoleIdentity},
			{Name: "deal_profit", Role: RoleValue},
			{Name: "timestamp_server", Role: RoleValue},
			{Name: "timestamp_utc", Role: RoleValue},
			{Name: "date", Role: RoleValue},
			{Name: "balance", Role: RoleValue},
			{Name: "max_balance_equity", Role: RoleValue},
			{Name: "net_deposit", Role: RoleValue},
			{Name: "yesterday_net_deposit", Role: RoleCarry},
			{Name: "daily_net_deposit", Role: RoleValue},
			{Name: "profit_loss", Role: RoleValue},
			{Name: "profit_gain", Role: RoleValue},
			{Name: "net_profit", Role: RoleValue},
			{Name: "yesterday_net_profit_loss", Role: RoleCarry},
			{Name: "daily_profit_loss", Role: RoleValue},
			{Name: "max_daily_profit_loss", Role: RoleValue},
			{Name: "last_open_trade_timestamp", Role: RoleValue},
			{Name: "trading_days", Role: RoleValue},
			{Name: "yesterday_profitable_trading_days", Role: RoleCarry},
			{Name: "profitable_trading_days", Role: RoleValue},
			{Name: "yesterday_sum_profit_on_profitable_trading_days", Role: RoleCarry},
			{Name: "sum_profit_on_profitable_trading_days", Role: RoleValue},
			{Name: "yesterday_max_profit_on_profitable_trading_days", Role: RoleCarry},
			{Name: "max_profit_on_profitable_trading_days", Role: RoleValue},
			{Name: "consistent_score", Role: RoleValue},
			{Name: "total_deposit", Role: RoleValue},
			{Name: "total_withdrawal", Role: RoleValue},
			{Name: "count_trades", Role: RoleValue},
			{Name: "count_long_trades", Role: RoleValue},
			{Name: "count_short_trades", Role: RoleValue},
			{Name: "profit_long_trades", Role: RoleValue},
			{Name: "profit_short_trades", Role: RoleValue},
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
			{Name: "initial_deposit", Role: RoleValue},
			{Name: "program_id", Role: RoleValue},
		},
		NewRow: func() store.Row { return &AccountMetricByDeal{} },
	}
}

// AccountByDealCalculator folds deals into AccountMetricByDeal rows.
type AccountByDealCalculator struct{}

func NewAccountByDealCalculator() *AccountByDealCalculator { return &AccountByDealCalculator{} }

func (c *AccountByDealCalculator) Schema() Schema { return AccountByDealSchema() }

func (c *AccountByDealCalculator) GroupKey(d *deal.Deal) (store.Key, error) {
	return AccountKey(d.Server, d.Login)
}

func (c *AccountByDealCalculator) Zero(key store.Key) store.Row {
	m := &AccountMetricByDeal{}
	seedAccountKey(key, &m.Server, &m.Login)
	return m
}

func (c *AccountByDealCalculator) Transition(ctx context.Context, d *deal.Deal, prevRow store.Row, aux Aux) (store.Row, error) {
	prev, ok := prevRow.(*AccountMetricByDeal)
	if !ok {
		return nil, fmt.Errorf("previous state is %T, want *AccountMetricByDeal", prevRow)
	}

	yesterday, err := yesterdaySnapshot(ctx, aux, d.Login, d.Date())
	if err != nil {
		return nil, err
	}

	m := &AccountMetricByDeal{
		Server:          d.Server,
		Login:           d.Login,
		DealID:          d.DealID,
		TimestampServer: d.Timestamp,
		TimestampUTC:    d.TimestampUTC,
		Date:            d.Date(),
	}

	newDay := m.Date > prev.Date
	closing := d.Action.IsTrade() && d.Entry.IsClose()
	netProfit := d.NetProfit()

	// An "initialize" BALANCE deal establishes the initial deposit instead of
	// accumulating as ordinary cash flow.
	bootstrap := d.IsBootstrap()

	m.InitialDeposit = prev.InitialDeposit
	m.ProgramID = prev.ProgramID
	if bootstrap {
		m.InitialDeposit = d.Profit
		if id := deal.ParseProgramID(d.Comment); id != 0 {
			m.ProgramID = id
		}
	}

	m.DealProfit = 0
	if !d.Action.IsAdjustment() {
		m.DealProfit = d.Profit
	}
	m.NetProfit = netProfit

	m.Balance = prev.Balance + d.Profit + d.Commission + d.Storage
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
		m.ProfitLoss += netProfit
	}
	m.ProfitGain = 0
	if m.InitialDeposit > 0 {
		m.ProfitGain = m.ProfitLoss / m.InitialDeposit * 100
	}
	m.YesterdayNetProfitLoss = prev.YesterdayNetProfitLoss
	if newDay {
		m.YesterdayNetProfitLoss = prev.ProfitLoss
	}
	m.DailyProfitLoss = m.ProfitLoss - m.YesterdayNetProfitLoss
	m.MaxDailyProfitLoss = math.Max(prev.MaxDailyProfitLoss, m.DailyProfitLoss)

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

	m.YesterdaySumProfitOnProfitableTradingDays = prev.YesterdaySumProfitOnProfitableTradingDays
	if newDay {
		m.YesterdaySumProfitOnProfitableTradingDays = prev.SumProfitOnProfitableTradingDays
	}
	m.SumProfitOnProfitableTradingDays = m.YesterdaySumProfitOnProfitableTradingDays
	if m.DailyProfitLoss > 0 {
		m.SumProfitOnProfitableTradingDays += m.DailyProfitLoss
	}

	m.YesterdayMaxProfitOnProfitableTradingDays = prev.YesterdayMaxProfitOnProfitableTradingDays
	if newDay {
		m.YesterdayMaxProfitOnProfitableTradingDays = prev.MaxProfitOnProfitableTradingDays
	}
	m.MaxProfitOnProfitableTradingDays = m.YesterdayMaxProfitOnProfitableTradingDays
	if m.DailyProfitLoss > 0 {
		m.MaxProfitOnProfitableTradingDays = math.Max(m.DailyProfitLoss, m.YesterdayMaxProfitOnProfitableTradingDays)
	}

	m.ConsistentScore = 0
	if m.SumProfitOnProfitableTradingDays > 0 {
		m.ConsistentScore = (1 - m.MaxProfitOnProfitableTradingDays/m.SumProfitOnProfitableTradingDays) * 100
	}

	m.TotalDeposit = prev.TotalDeposit
	if d.Action == deal.ActionBalance && d.Profit > 0 && !bootstrap {
		m.TotalDeposit += d.Profit
	}
	m.TotalWithdrawal = prev.TotalWithdrawal
	if d.Action == deal.ActionBalance && d.Profit < 0 {
		m.TotalWithdrawal += d.Profit
	}

	m.CountTrades = prev.CountTrades
	m.CountLongTrades = prev.CountLongTrades
	m.CountShortTrades = prev.CountShortTrades
	m.ProfitLongTrades = prev.ProfitLongTrades
	m.ProfitShortTrades = prev.ProfitShortTrades
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
			m.ProfitLongTrades += d.Profit
		}
		if d.Action == deal.ActionSell {
			m.CountShortTrades++
			m.ProfitShortTrades += d.Profit
		}
		if netProfit >= 0 {
			m.CountProfitTrades++
			m.GrossProfit += netProfit
		} else {
			m.CountLossTrades++
			m.GrossLoss += netProfit
		}
		m.TotalVolume += float64(d.Volume)
		if netProfit > prev.BestTrade {
			m.BestTrade = netProfit
		}
		if netProfit < prev.WorstTrade {
			m.WorstTrade = netProfit
		}
	}

	m.WinsRatio = safeRatio(float64(m.CountProfitTrades), float64(m.CountTrades))
	m.LossesRatio = safeRatio(float64(m.CountLossTrades), float64(m.CountTrades))
	m.AverageWin = safeRatio(m.GrossProfit, float64(m.CountProfitTrades))
	m.AverageLoss = safeRatio(m.GrossLoss, float64(m.CountLossTrades))

	return m, nil
}
