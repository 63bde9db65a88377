package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findColumn(t *testing.T, meta *TableMeta, name string) Column {
	t.Helper()
	for _, c := range meta.Columns {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %s not found in %s", name, meta.TableName)
	return Column{}
}

func TestSchemaFromStruct_Tables(t *testing.T) {
	names := map[string]bool{}
	for _, tbl := range AllTables() {
		names[tbl.TableName] = true
	}
	for _, want := range []string{"etfs", "etf_daily_prices", "etf_dividends", "etf_tris", "etf_backtests", "etl_sync_status"} {
		assert.True(t, names[want], want)
	}
}

func TestSchemaFromStruct_ColumnTypes(t *testing.T) {
	assert.Equal(t, TypeDate, findColumn(t, TableDailyPrices, "trade_date").Type)
	assert.Equal(t, TypeFloat64, findColumn(t, TableDailyPrices, "adj_close").Type)
	assert.Equal(t, TypeInt64, findColumn(t, TableDailyPrices, "volume").Type)
	assert.Equal(t, TypeString, findColumn(t, TableInstruments, "region").Type)
	assert.Equal(t, TypeDateTime, findColumn(t, TableBacktests, "computed_at").Type)

	sharpe := findColumn(t, TableBacktests, "sharpe_ratio")
	assert.True(t, sharpe.Nullable)
	assert.Equal(t, TypeFloat64, sharpe.Type)

	inception := findColumn(t, TableInstruments, "inception_date")
	assert.True(t, inception.Nullable)
	assert.Equal(t, TypeDate, inception.Type)

	assert.False(t, findColumn(t, TableTRI, "tri").Nullable)
}

func TestTableMeta_Helpers(t *testing.T) {
	assert.Equal(t, []string{"etf_id", "start_date"}, TableBacktests.KeyColumns)
	assert.Equal(t, "trade_date", TableDailyPrices.DateColumn())
	assert.Equal(t, "inception_date", TableInstruments.DateColumn())

	values := TableTRI.ValueColumns()
	assert.Equal(t, []string{"tri", "currency"}, values)

	names := TableDividends.ColumnNames()
	require.Len(t, names, 4)
	assert.Equal(t, "etf_id", names[0])
}

func TestSyncColumns(t *testing.T) {
	d, c := SyncColumns(SeriesTRI)
	assert.Equal(t, "last_tri_date", d)
	assert.Equal(t, "tri_count", c)
	assert.Equal(t, TableDividends, SeriesTable(SeriesDividends))

	var s *SyncState
	last, n := s.Cursor(SeriesPrices)
	assert.Nil(t, last)
	assert.Zero(t, n)
}

func TestRegion(t *testing.T) {
	r, err := ParseRegion(" tw ")
	require.NoError(t, err)
	assert.Equal(t, RegionTW, r)
	assert.Equal(t, SeriesRawWithDividends, r.DefaultSeriesKind())
	assert.Equal(t, SeriesAdjustedClose, RegionUS.DefaultSeriesKind())
	assert.Equal(t, "us", RegionUS.Lower())

	_, err = ParseRegion("JP")
	assert.Error(t, err)
}
