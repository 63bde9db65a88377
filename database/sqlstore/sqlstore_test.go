package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, _ := time.Parse(model.DateLayout, s)
	return t
}

func newSQLite(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver(model.DBConfig{Type: model.DBTypeSQLite, DSN: filepath.Join(t.TempDir(), "etf.db")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.InitSchema(ctx))
	return d
}

func TestNewDriver_RejectsOtherTypes(t *testing.T) {
	_, err := NewDriver(model.DBConfig{Type: model.DBTypePostgres})
	assert.Error(t, err)
}

func TestInitSchema_Idempotent(t *testing.T) {
	d := newSQLite(t)
	assert.NoError(t, d.InitSchema(context.Background()))
}

func TestInstruments_RoundTrip(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	inception := day("2003-06-30")
	er := 0.0043
	insts := []model.Instrument{
		{ETFID: "0050.TW", Name: "元大台灣50", Region: model.RegionTW, Currency: "TWD",
			ExpenseRatio: &er, InceptionDate: &inception, Status: model.StatusActive,
			SeriesKind: model.SeriesRawWithDividends, UpdatedAt: time.Now().UTC()},
		{ETFID: "SPY", Name: "SPDR S&P 500", Region: model.RegionUS, Currency: "USD",
			Status: model.StatusActive, SeriesKind: model.SeriesAdjustedClose, UpdatedAt: time.Now().UTC()},
	}
	require.NoError(t, d.UpsertInstruments(ctx, insts))

	tw, err := d.ListInstruments(ctx, model.RegionTW)
	require.NoError(t, err)
	require.Len(t, tw, 1)
	assert.Equal(t, "元大台灣50", tw[0].Name)
	require.NotNil(t, tw[0].InceptionDate)
	assert.True(t, inception.Equal(*tw[0].InceptionDate))
	require.NotNil(t, tw[0].ExpenseRatio)
	assert.Equal(t, er, *tw[0].ExpenseRatio)

	all, err := d.ListInstruments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, d.UpdateInstrumentStatus(ctx, "SPY", model.StatusDelisted))
	spy, err := d.GetInstrument(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, spy)
	assert.Equal(t, model.StatusDelisted, spy.Status)
	assert.Nil(t, spy.InceptionDate)
	assert.Equal(t, model.SeriesAdjustedClose, spy.SeriesKind)

	missing, err := d.GetInstrument(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPrices_InsertIfAbsent(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	bars := []model.PriceBar{
		{ETFID: "SPY", TradeDate: day("2024-01-02"), Close: 470, AdjClose: 465, Volume: 100, Currency: "USD"},
		{ETFID: "SPY", TradeDate: day("2024-01-03"), Close: 468, AdjClose: 463, Volume: 120, Currency: "USD"},
	}
	n, err := d.InsertPrices(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 重复写入不覆盖已有行
	bars[0].Close = 999
	bars = append(bars, model.PriceBar{ETFID: "SPY", TradeDate: day("2024-01-04"), Close: 467, AdjClose: 462, Currency: "USD"})
	n, err = d.InsertPrices(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	start := day("2024-01-03")
	got, err := d.QueryPrices(ctx, "SPY", &start, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, day("2024-01-03").Equal(got[0].TradeDate))
	assert.Equal(t, int64(120), got[0].Volume)

	all, err := d.QueryPrices(ctx, "SPY", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 470.0, all[0].Close)

	summary, err := d.SeriesSummary(ctx, "SPY", model.SeriesPrices)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Count)
	require.NotNil(t, summary.Last)
	assert.True(t, day("2024-01-04").Equal(*summary.Last))

	empty, err := d.SeriesSummary(ctx, "QQQ", model.SeriesPrices)
	require.NoError(t, err)
	assert.Nil(t, empty.Last)
	assert.Zero(t, empty.Count)
}

func TestTRI_UpsertOverwrites(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	pts := []model.TRIPoint{
		{ETFID: "SPY", TRIDate: day("2024-01-02"), TRI: 1, Currency: "USD"},
		{ETFID: "SPY", TRIDate: day("2024-01-03"), TRI: 1.01, Currency: "USD"},
	}
	require.NoError(t, d.UpsertTRI(ctx, pts))
	pts[1].TRI = 1.02
	require.NoError(t, d.UpsertTRI(ctx, pts[1:]))

	got, err := d.QueryTRI(ctx, "SPY", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.02, got[1].TRI)

	last, err := d.LatestTRI(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, day("2024-01-03").Equal(last.TRIDate))

	none, err := d.LatestTRI(ctx, "QQQ")
	require.NoError(t, err)
	assert.Nil(t, none)

	var n int
	require.NoError(t, d.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM v_latest_tri"))
	assert.Equal(t, 1, n)
}

func TestBacktests_NullSharpe(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	sharpe := 0.9
	results := []model.BacktestResult{
		{ETFID: "SPY", StartDate: day("2023-01-03"), WindowLabel: "1y", EndDate: day("2024-01-03"),
			TotalReturn: 0.2, CAGR: 0.2, Volatility: 0.15, SharpeRatio: &sharpe, ComputedAt: time.Now().UTC()},
		{ETFID: "SPY", StartDate: day("2021-01-04"), WindowLabel: "3y", EndDate: day("2024-01-03"),
			TotalReturn: 0, CAGR: 0, Volatility: 0, ComputedAt: time.Now().UTC()},
	}
	require.NoError(t, d.UpsertBacktests(ctx, results))
	require.NoError(t, d.UpsertBacktests(ctx, results))

	got, err := d.QueryBacktests(ctx, "SPY")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3y", got[0].WindowLabel)
	assert.Nil(t, got[0].SharpeRatio)
	require.NotNil(t, got[1].SharpeRatio)
	assert.Equal(t, 0.9, *got[1].SharpeRatio)
}

func TestSyncState_MonotonicCursor(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, d.EnsureSyncState(ctx, "SPY", "QQQ"))
	require.NoError(t, d.EnsureSyncState(ctx, "SPY"))

	s, err := d.GetSyncState(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Nil(t, s.LastTRIDate)

	ok, err := d.AdvanceSyncState(ctx, "SPY", model.SeriesTRI, day("2024-01-05"), 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.AdvanceSyncState(ctx, "SPY", model.SeriesTRI, day("2024-01-03"), 8)
	require.NoError(t, err)
	assert.False(t, ok, "older date never regresses the cursor")

	ok, err = d.AdvanceSyncState(ctx, "SPY", model.SeriesTRI, day("2024-01-05"), 10)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.AdvanceSyncState(ctx, "SPY", model.SeriesTRI, day("2024-01-05"), 11)
	require.NoError(t, err)
	assert.True(t, ok, "same date with more rows refreshes the count")

	s, err = d.GetSyncState(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, s.LastTRIDate)
	assert.True(t, day("2024-01-05").Equal(*s.LastTRIDate))
	assert.Equal(t, int64(11), s.TRICount)
	assert.Nil(t, s.LastPriceDate)

	// 没有 seed 过的标的也能直接推进
	ok, err = d.AdvanceSyncState(ctx, "IVV", model.SeriesPrices, day("2024-01-05"), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	missing, err := d.GetSyncState(ctx, "VOO")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
