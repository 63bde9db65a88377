package cmd

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recentProvider 只有最近 400 天的数据
type recentProvider struct{}

func (recentProvider) Name() string { return "recent" }

func (recentProvider) Fetch(_ context.Context, inst model.Instrument, start, end time.Time) (*model.RawSeries, error) {
	first := end.AddDate(0, 0, -400)
	if start.After(first) {
		first = start
	}
	s := &model.RawSeries{ETFID: inst.ETFID, Currency: "TWD"}
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		n := float64(d.Unix()/86400) / 30
		c := 50 + 5*math.Sin(n)
		s.Prices = append(s.Prices, model.RawPrice{Date: d, Open: c, High: c, Low: c, Close: c, AdjClose: c})
	}
	return s, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	universe := filepath.Join(dir, "universe.yaml")
	require.NoError(t, os.WriteFile(universe, []byte(`etfs:
  - id: 0050.tw
    name: 元大台灣50
    region: TW
  - id: SPY
    name: SPDR S&P 500
    region: US
`), 0644))

	return &config.Config{
		Database: config.DatabaseConfig{URI: "sqlite://" + filepath.Join(dir, "etf.db")},
		Calc: config.CalcConfig{
			TRIBase:          1.0,
			GapToleranceDays: 7,
			SplitDividends:   true,
			Windows:          []int{1, 3},
			DefaultStartDate: "2015-01-01",
		},
		Pipeline: config.PipelineConfig{Concurrency: 2},
		Retry:    config.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Schedule: config.ScheduleConfig{TW: "08:00"},
		Universe: config.UniverseConfig{Path: universe},
	}
}

func TestParseRegions(t *testing.T) {
	regions, err := ParseRegions("")
	require.NoError(t, err)
	assert.Equal(t, AllRegions, regions)

	regions, err = ParseRegions("tw, TW,us")
	require.NoError(t, err)
	assert.Equal(t, []model.Region{model.RegionTW, model.RegionUS}, regions)

	_, err = ParseRegions("hk")
	assert.Error(t, err)
}

func TestParseAsOf(t *testing.T) {
	d, err := ParseAsOf("2024-06-28")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseAsOf("")
	require.NoError(t, err)
	assert.Equal(t, GetToday(), d)

	_, err = ParseAsOf("28/06/2024")
	assert.Error(t, err)
}

func TestCycleThenExport(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	app, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer app.Close()
	app.providers[model.RegionTW] = recentProvider{}

	require.NoError(t, app.RunCycle(ctx, model.RegionTW, GetToday()))

	inst, err := app.DB.GetInstrument(ctx, "0050.TW")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "TWD", inst.Currency)

	us, err := app.DB.GetInstrument(ctx, "SPY")
	require.NoError(t, err)
	assert.Nil(t, us, "only the TW part of the universe is aligned")

	tri, err := app.DB.QueryTRI(ctx, "0050.TW", nil, nil)
	require.NoError(t, err)
	assert.Greater(t, len(tri), 250)

	results, err := app.DB.QueryBacktests(ctx, "0050.TW")
	require.NoError(t, err)
	require.Len(t, results, 1, "3y window needs more history")
	assert.Equal(t, "1y", results[0].WindowLabel)

	out := t.TempDir()
	for _, format := range []string{FormatCSV, FormatParquet} {
		n, err := exportOne(ctx, app.DB, "0050.TW", format, out, nil)
		require.NoError(t, err)
		assert.Equal(t, len(tri), n)
	}

	data, err := os.ReadFile(filepath.Join(out, "0050.TW.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, len(tri)+1, len(lines))
	assert.True(t, strings.HasPrefix(lines[0], "etf_id,date,close,adj_close,tri,ma5"))

	info, err := os.Stat(filepath.Join(out, "0050.TW.parquet"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	from := tri[len(tri)-10].TRIDate
	n, err := exportOne(ctx, app.DB, "0050.TW", FormatCSV, out, &from)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestExport_RejectsUnknownFormat(t *testing.T) {
	cfg := testConfig(t)
	err := Export(context.Background(), cfg, ExportOptions{Format: "xlsx", OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "unsupported export format")
}
