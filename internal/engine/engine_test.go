package engine_test

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/engine"
	"DealMetrics/internal/metric"
	"DealMetrics/internal/store"
)

// day1 is 2023-11-14 22:13:20 UTC; day2 is the same wall time the next day.
const (
	day1 = int64(1700000000)
	day2 = day1 + 86400
)

func newTestRunner() (*engine.Runner, *store.MemoryStore) {
	st := store.NewMemoryStore()
	r := engine.NewRunner(4, zerolog.Nop(), nil)
	r.Register(metric.NewDailyAccountCalculator(), st)
	r.Register(metric.NewAccountByDealCalculator(), st)
	r.Register(metric.NewSymbolByDealCalculator(), st)
	r.Register(metric.NewPositionByDealCalculator(), st)
	r.RegisterAux(metric.RollupDailySnapshot, st)
	return r, st
}

func tradeDeal(id int64, ts int64, action deal.Action, entry deal.Entry, profit float64) *deal.Deal {
	return &deal.Deal{
		DealID:       id,
		Server:       "live-1",
		Login:        7001,
		Timestamp:    ts,
		TimestampUTC: ts,
		Action:       action,
		Entry:        entry,
		Symbol:       "EURUSD",
		Volume:       100,
		Profit:       profit,
		PositionID:   id + 50000,
	}
}

func balanceDeal(id int64, ts int64, profit float64, comment string) *deal.Deal {
	return &deal.Deal{
		DealID:       id,
		Server:       "live-1",
		Login:        7001,
		Timestamp:    ts,
		TimestampUTC: ts,
		Action:       deal.ActionBalance,
		Entry:        deal.EntryIn,
		Profit:       profit,
		Comment:      comment,
	}
}

func latestDaily(t *testing.T, st *store.MemoryStore, login int64) *metric.DailyAccountMetric {
	t.Helper()
	key, err := metric.AccountKey("live-1", login)
	if err != nil {
		t.Fatalf("account key: %v", err)
	}
	row, err := st.GetLatest(context.Background(), metric.RollupAccountDaily, key)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if row == nil {
		t.Fatal("no daily state for login")
	}
	return row.(*metric.DailyAccountMetric)
}

func TestCalculateAll_EmptyBatch(t *testing.T) {
	r, st := newTestRunner()

	results, err := r.CalculateAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty batch failed: %v", err)
	}
	for name, rows := range results {
		if len(rows) != 0 {
			t.Errorf("rollup %s emitted %d rows from empty batch", name, len(rows))
		}
	}
	if st.Len(metric.RollupAccountDaily) != 0 {
		t.Error("empty batch appended rows")
	}
}

func TestCalculate_NotConfigured(t *testing.T) {
	r, _ := newTestRunner()

	_, err := r.Calculate(context.Background(), "nonexistent_rollup", []*deal.Deal{
		tradeDeal(1, day1, deal.ActionBuy, deal.EntryIn, 0),
	})
	if !errors.Is(err, engine.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCalculateAll_EmitsOneRowPerDeal(t *testing.T) {
	r, st := newTestRunner()

	batch := []*deal.Deal{
		tradeDeal(1, day1, deal.ActionBuy, deal.EntryIn, 0),
		tradeDeal(2, day1+600, deal.ActionBuy, deal.EntryOut, 25),
	}
	results, err := r.CalculateAll(context.Background(), batch)
	if err != nil {
		t.Fatalf("calculate all: %v", err)
	}

	for _, name := range []string{metric.RollupAccountDaily, metric.RollupAccountByDeal, metric.RollupSymbolByDeal} {
		if len(results[name]) != 2 {
			t.Errorf("rollup %s: got %d rows, want 2", name, len(results[name]))
		}
		if st.Len(name) != 2 {
			t.Errorf("rollup %s: store holds %d rows, want 2", name, st.Len(name))
		}
	}
	// Two distinct positions, one leg each.
	if len(results[metric.RollupPositionByDeal]) != 2 {
		t.Errorf("position rollup: got %d rows, want 2", len(results[metric.RollupPositionByDeal]))
	}
}

func TestCalculateAll_ResubmitIsNoOp(t *testing.T) {
	r, st := newTestRunner()
	batch := []*deal.Deal{
		tradeDeal(1, day1, deal.ActionBuy, deal.EntryIn, 0),
		tradeDeal(2, day1+600, deal.ActionBuy, deal.EntryOut, 25),
	}

	if _, err := r.CalculateAll(context.Background(), batch); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	before := st.Len(metric.RollupAccountDaily)

	results, err := r.CalculateAll(context.Background(), batch)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	for name, rows := range results {
		if len(rows) != 0 {
			t.Errorf("rollup %s re-emitted %d rows", name, len(rows))
		}
	}
	if got := st.Len(metric.RollupAccountDaily); got != before {
		t.Errorf("store grew from %d to %d rows on resubmission", before, got)
	}
}

func TestCalculateAll_OverlappingBatchSkipsAbsorbed(t *testing.T) {
	r, _ := newTestRunner()

	first := []*deal.Deal{
		tradeDeal(1, day1, deal.ActionBuy, deal.EntryIn, 0),
		tradeDeal(2, day1+600, deal.ActionBuy, deal.EntryOut, 25),
	}
	if _, err := r.CalculateAll(context.Background(), first); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	overlap := []*deal.Deal{
		tradeDeal(2, day1+600, deal.ActionBuy, deal.EntryOut, 25),
		tradeDeal(3, day1+1200, deal.ActionSell, deal.EntryOut, -10),
	}
	results, err := r.CalculateAll(context.Background(), overlap)
	if err != nil {
		t.Fatalf("overlapping batch: %v", err)
	}

	rows := results[metric.RollupAccountDaily]
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (only the new deal)", len(rows))
	}
	if rows[0].Cursor() != 3 {
		t.Errorf("emitted cursor %d, want 3", rows[0].Cursor())
	}
}

func TestCalculateAll_ShuffleInvariance(t *testing.T) {
	deals := []*deal.Deal{
		balanceDeal(1, day1, 1000, "Deposit"),
		tradeDeal(2, day1+100, deal.ActionBuy, deal.EntryIn, 0),
		tradeDeal(3, day1+700, deal.ActionBuy, deal.EntryOut, 50),
		tradeDeal(4, day2, deal.ActionSell, deal.EntryIn, 0),
		tradeDeal(5, day2+300, deal.ActionSell, deal.EntryOut, -15),
	}

	fold := func(batch []*deal.Deal) *metric.DailyAccountMetric {
		r, st := newTestRunner()
		if _, err := r.CalculateAll(context.Background(), batch); err != nil {
			t.Fatalf("calculate all: %v", err)
		}
		return latestDaily(t, st, 7001)
	}

	want := fold(deals)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		shuffled := make([]*deal.Deal, len(deals))
		copy(shuffled, deals)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := fold(shuffled)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("shuffle %d: final state diverged\ngot  %+v\nwant %+v", i, got, want)
		}
	}
}

func TestCalculateAll_MalformedDealFailsBatch(t *testing.T) {
	r, st := newTestRunner()

	batch := []*deal.Deal{
		tradeDeal(1, day1, deal.ActionBuy, deal.EntryIn, 0),
		{DealID: 2, Login: 7001, Timestamp: day1, Action: deal.ActionBuy, Entry: deal.EntryOut}, // no server
	}
	_, err := r.CalculateAll(context.Background(), batch)
	if err == nil {
		t.Fatal("expected malformed batch to fail")
	}
	var malformed *engine.MalformedDealError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedDealError, got %v", err)
	}
	if malformed.DealID != 2 {
		t.Errorf("malformed deal id: got %d, want 2", malformed.DealID)
	}

	// Barrier: the valid deal must not have been appended anywhere.
	for _, name := range []string{metric.RollupAccountDaily, metric.RollupAccountByDeal, metric.RollupSymbolByDeal, metric.RollupPositionByDeal} {
		if st.Len(name) != 0 {
			t.Errorf("rollup %s: %d rows appended despite batch failure", name, st.Len(name))
		}
	}
}

func TestCalculateAll_CashDealSkippedByPositionRollup(t *testing.T) {
	r, _ := newTestRunner()

	results, err := r.CalculateAll(context.Background(), []*deal.Deal{
		balanceDeal(1, day1, 500, "Deposit"),
	})
	if err != nil {
		t.Fatalf("calculate all: %v", err)
	}
	if len(results[metric.RollupPositionByDeal]) != 0 {
		t.Errorf("position rollup absorbed a cash deal: %d rows", len(results[metric.RollupPositionByDeal]))
	}
	if len(results[metric.RollupAccountDaily]) != 1 {
		t.Errorf("daily rollup: got %d rows, want 1", len(results[metric.RollupAccountDaily]))
	}
}

func TestCalculateAll_BootstrapDeal(t *testing.T) {
	r, st := newTestRunner()

	if _, err := r.CalculateAll(context.Background(), []*deal.Deal{
		balanceDeal(1, day1, 1000, "initialize acc ABC123"),
	}); err != nil {
		t.Fatalf("calculate all: %v", err)
	}

	key, _ := metric.AccountKey("live-1", 7001)
	row, err := st.GetLatest(context.Background(), metric.RollupAccountByDeal, key)
	if err != nil || row == nil {
		t.Fatalf("get latest: row=%v err=%v", row, err)
	}
	m := row.(*metric.AccountMetricByDeal)

	if m.InitialDeposit != 1000 {
		t.Errorf("initial_deposit: got %f, want 1000", m.InitialDeposit)
	}
	if m.ProgramID != 123 {
		t.Errorf("program_id: got %d, want 123", m.ProgramID)
	}
	if m.NetDeposit != 0 {
		t.Errorf("net_deposit: got %f, want 0 (bootstrap is not a deposit)", m.NetDeposit)
	}
	if m.TotalDeposit != 0 {
		t.Errorf("total_deposit: got %f, want 0 (bootstrap is not a deposit)", m.TotalDeposit)
	}
	if m.Balance != 1000 {
		t.Errorf("balance: got %f, want 1000", m.Balance)
	}
	if m.DealProfit != 0 {
		t.Errorf("deal_profit: got %f, want 0 (adjustments carry no deal profit)", m.DealProfit)
	}
}

func TestCalculateAll_RatiosZeroWithoutTrades(t *testing.T) {
	r, st := newTestRunner()

	if _, err := r.CalculateAll(context.Background(), []*deal.Deal{
		balanceDeal(1, day1, 500, "Deposit"),
	}); err != nil {
		t.Fatalf("calculate all: %v", err)
	}

	m := latestDaily(t, st, 7001)
	if m.CountTrades != 0 {
		t.Fatalf("count_trades: got %d, want 0", m.CountTrades)
	}
	if m.WinsRatio != 0 || m.LossesRatio != 0 || m.AverageWin != 0 || m.AverageLoss != 0 {
		t.Errorf("zero-trade ratios must be 0.0: wins=%f losses=%f avg_win=%f avg_loss=%f",
			m.WinsRatio, m.LossesRatio, m.AverageWin, m.AverageLoss)
	}
}

func TestCalculateAll_DayBoundaryCarry(t *testing.T) {
	r, st := newTestRunner()

	batch := []*deal.Deal{
		balanceDeal(1, day1, 1000, "Deposit"),
		tradeDeal(2, day1+600, deal.ActionBuy, deal.EntryOut, 50),
		tradeDeal(3, day2, deal.ActionSell, deal.EntryOut, 20),
	}
	if _, err := r.CalculateAll(context.Background(), batch); err != nil {
		t.Fatalf("calculate all: %v", err)
	}

	m := latestDaily(t, st, 7001)
	if m.YesterdayNetDeposit != 1000 {
		t.Errorf("yesterday_net_deposit: got %f, want 1000", m.YesterdayNetDeposit)
	}
	if m.DailyNetDeposit != 0 {
		t.Errorf("daily_net_deposit: got %f, want 0", m.DailyNetDeposit)
	}
	if m.YesterdayNetProfitLoss != 50 {
		t.Errorf("yesterday_net_profit_loss: got %f, want 50", m.YesterdayNetProfitLoss)
	}
	if m.ProfitLoss != 70 {
		t.Errorf("profit_loss: got %f, want 70", m.ProfitLoss)
	}
	if m.DailyProfitLoss != 20 {
		t.Errorf("daily_profit_loss: got %f, want 20", m.DailyProfitLoss)
	}
	if m.ProfitableTradingDays != 2 {
		t.Errorf("profitable_trading_days: got %d, want 2", m.ProfitableTradingDays)
	}
}

func TestCalculateAll_CarryNotRebaselinedWithinDay(t *testing.T) {
	r, st := newTestRunner()

	batch := []*deal.Deal{
		balanceDeal(1, day1, 1000, "Deposit"),
		tradeDeal(2, day1+600, deal.ActionBuy, deal.EntryOut, 50),
		tradeDeal(3, day1+1200, deal.ActionSell, deal.EntryOut, 20),
	}
	if _, err := r.CalculateAll(context.Background(), batch); err != nil {
		t.Fatalf("calculate all: %v", err)
	}

	m := latestDaily(t, st, 7001)
	if m.YesterdayNetDeposit != 0 {
		t.Errorf("yesterday_net_deposit: got %f, want 0 (same day)", m.YesterdayNetDeposit)
	}
	if m.DailyProfitLoss != 70 {
		t.Errorf("daily_profit_loss: got %f, want 70", m.DailyProfitLoss)
	}
}

func TestCalculateAll_YesterdaySnapshotFeedsMaxBalanceEquity(t *testing.T) {
	r, st := newTestRunner()
	ctx := context.Background()

	snapDate := deal.DateOfUnix(day1).Prev()
	if err := r.AppendSnapshots(ctx, []*metric.DailySnapshot{
		{Server: "live-1", Login: 7001, Date: snapDate, Balance: 5000, ProfitEquity: 5100},
	}); err != nil {
		t.Fatalf("append snapshot: %v", err)
	}

	if _, err := r.CalculateAll(ctx, []*deal.Deal{
		tradeDeal(1, day1, deal.ActionBuy, deal.EntryOut, 10),
	}); err != nil {
		t.Fatalf("calculate all: %v", err)
	}

	m := latestDaily(t, st, 7001)
	if m.MaxBalanceEquity != 5100 {
		t.Errorf("max_balance_equity: got %f, want 5100", m.MaxBalanceEquity)
	}
}

func TestAppendSnapshots_DuplicateDateAbsorbed(t *testing.T) {
	r, st := newTestRunner()
	ctx := context.Background()

	snap := &metric.DailySnapshot{Server: "live-1", Login: 7001, Date: deal.DateOfUnix(day1), Balance: 100}
	if err := r.AppendSnapshots(ctx, []*metric.DailySnapshot{snap}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := r.AppendSnapshots(ctx, []*metric.DailySnapshot{snap}); err != nil {
		t.Fatalf("second append: %v", err)
	}
	if got := st.Len(metric.RollupDailySnapshot); got != 1 {
		t.Errorf("snapshot rows: got %d, want 1", got)
	}
}

func TestEngine_TradingDaysCountCalendarDaysWithOpens(t *testing.T) {
	r, st := newTestRunner()

	batch := []*deal.Deal{
		tradeDeal(1, day1, deal.ActionBuy, deal.EntryIn, 0),
		tradeDeal(2, day1+600, deal.ActionBuy, deal.EntryIn, 0), // same day, no new trading day
		tradeDeal(3, day2, deal.ActionSell, deal.EntryIn, 0),
		tradeDeal(4, day2+600, deal.ActionSell, deal.EntryOut, 5), // close does not open a day
	}
	if _, err := r.CalculateAll(context.Background(), batch); err != nil {
		t.Fatalf("calculate all: %v", err)
	}

	m := latestDaily(t, st, 7001)
	if m.TradingDays != 2 {
		t.Errorf("trading_days: got %d, want 2", m.TradingDays)
	}
	if m.LastOpenTradeTimestamp != day2 {
		t.Errorf("last_open_trade_timestamp: got %d, want %d", m.LastOpenTradeTimestamp, day2)
	}
}
