package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, _ := time.Parse(model.DateLayout, s)
	return t
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewStoreWithPool(mock)
}

func TestInitSchema(t *testing.T) {
	mock, store := newMock(t)

	for range model.AllTables() {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	for range model.AllViews() {
		mock.ExpectExec("CREATE OR REPLACE VIEW").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTRI(t *testing.T) {
	mock, store := newMock(t)
	start := day("2024-01-02")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT etf_id, tri_date, tri, currency FROM etf_tris WHERE etf_id = $1 AND tri_date >= $2")).
		WithArgs("SPY", start).
		WillReturnRows(pgxmock.NewRows([]string{"etf_id", "tri_date", "tri", "currency"}).
			AddRow("SPY", day("2024-01-02"), 1.0, "USD").
			AddRow("SPY", day("2024-01-03"), 1.01, "USD"))

	pts, err := store.QueryTRI(context.Background(), "SPY", &start, nil)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 1.01, pts[1].TRI)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestTRI_NoRows(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectQuery("SELECT etf_id, tri_date, tri, currency FROM etf_tris").
		WithArgs("QQQ").
		WillReturnRows(pgxmock.NewRows([]string{"etf_id", "tri_date", "tri", "currency"}))

	p, err := store.LatestTRI(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInstrument(t *testing.T) {
	mock, store := newMock(t)
	er := 0.0043
	inception := day("2003-06-30")
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM etfs WHERE etf_id = $1")).
		WithArgs("0050.TW").
		WillReturnRows(pgxmock.NewRows(model.TableInstruments.ColumnNames()).
			AddRow("0050.TW", "元大台灣50", "TW", "TWD", &er, &inception, "ACTIVE", "RAW_WITH_DIVIDENDS", now))

	inst, err := store.GetInstrument(context.Background(), "0050.TW")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, model.RegionTW, inst.Region)
	assert.Equal(t, model.SeriesRawWithDividends, inst.SeriesKind)
	assert.True(t, inst.Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPrices(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO etf_daily_prices (etf_id, trade_date, open, high, low, close, adj_close, volume, currency) VALUES ($1,")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.InsertPrices(context.Background(), []model.PriceBar{
		{ETFID: "SPY", TradeDate: day("2024-01-02"), Close: 470, AdjClose: 465, Currency: "USD"},
		{ETFID: "SPY", TradeDate: day("2024-01-03"), Close: 468, AdjClose: 463, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "existing row is kept")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPrices_Empty(t *testing.T) {
	mock, store := newMock(t)
	n, err := store.InsertPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceSyncState(t *testing.T) {
	mock, store := newMock(t)
	d := day("2024-01-05")

	expectSeed := func() {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO etl_sync_status").WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectCommit()
	}

	expectSeed()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE etl_sync_status SET last_tri_date = $1, tri_count = $2")).
		WithArgs(d, int64(10), pgxmock.AnyArg(), "SPY", d, d, int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	expectSeed()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE etl_sync_status SET last_tri_date = $1")).
		WithArgs(d, int64(10), pgxmock.AnyArg(), "SPY", d, d, int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	ok, err := store.AdvanceSyncState(ctx, "SPY", model.SeriesTRI, d, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AdvanceSyncState(ctx, "SPY", model.SeriesTRI, d, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesSummary(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM etf_dividends WHERE etf_id = $1")).
		WithArgs("0050.TW").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT ex_date FROM etf_dividends WHERE etf_id = $1 ORDER BY ex_date DESC LIMIT 1")).
		WithArgs("0050.TW").
		WillReturnRows(pgxmock.NewRows([]string{"ex_date"}).AddRow(day("2024-07-16")))

	s, err := store.SeriesSummary(context.Background(), "0050.TW", model.SeriesDividends)
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.Count)
	require.NotNil(t, s.Last)
	assert.Equal(t, day("2024-07-16"), *s.Last)
	assert.NoError(t, mock.ExpectationsWereMet())
}
