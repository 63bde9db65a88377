package calc

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triSeries(start time.Time, values ...float64) []model.TRIPoint {
	out := make([]model.TRIPoint, len(values))
	for i, v := range values {
		out[i] = model.TRIPoint{ETFID: "X", TRIDate: start.AddDate(0, 0, i), TRI: v}
	}
	return out
}

func TestMetrics_DrawdownAndTotalReturnExample(t *testing.T) {
	series := triSeries(day("2024-01-01"), 1.0, 1.05, 0.95, 1.10)

	m, err := ComputeMetrics(series, day("2024-01-01"), day("2024-01-04"))
	require.NoError(t, err)

	assert.InDelta(t, 0.95/1.05-1, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, -0.0952, m.MaxDrawdown, 1e-4)
	assert.InDelta(t, 0.10, m.TotalReturn, 1e-12)
	assert.InDelta(t, math.Pow(1.10, 365.25/3)-1, m.CAGR, 1e-9)
	require.True(t, m.SharpeDefined())
	assert.InDelta(t, m.CAGR/m.Volatility, *m.Sharpe, 1e-12)
	assert.Equal(t, 4, m.Samples)
}

func TestMetrics_Volatility(t *testing.T) {
	series := triSeries(day("2024-01-01"), 100, 110, 99, 108.9)
	m, err := ComputeMetrics(series, day("2024-01-01"), day("2024-01-04"))
	require.NoError(t, err)

	returns := []float64{0.1, -0.1, 0.1}
	mean := 0.1 / 3
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	want := math.Sqrt(ss/2) * math.Sqrt(252)
	assert.InDelta(t, want, m.Volatility, 1e-9)
}

func TestMetrics_FlatSeriesHasUndefinedSharpe(t *testing.T) {
	series := triSeries(day("2024-01-01"), 1.2, 1.2, 1.2, 1.2, 1.2)
	m, err := ComputeMetrics(series, day("2024-01-01"), day("2024-01-05"))
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.TotalReturn)
	assert.Equal(t, 0.0, m.Volatility)
	assert.False(t, m.SharpeDefined())
	assert.Nil(t, m.Sharpe)
	assert.Equal(t, 0.0, m.MaxDrawdown)
}

func TestMetrics_MonotonicSeriesHasNoDrawdown(t *testing.T) {
	series := triSeries(day("2024-01-01"), 1, 1.01, 1.03, 1.04, 1.2, 1.21)
	m, err := ComputeMetrics(series, day("2024-01-01"), day("2024-01-06"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.MaxDrawdown)
}

func TestMetrics_OneDayWindowIsDegenerate(t *testing.T) {
	series := triSeries(day("2024-01-01"), 1, 1.01, 1.03)

	_, err := ComputeMetrics(series, day("2024-01-02"), day("2024-01-02"))
	var degen *DegenerateWindowError
	assert.True(t, errors.As(err, &degen))

	// 两个点只有一个收益率，波动率无定义
	_, err = ComputeMetrics(series, day("2024-01-01"), day("2024-01-02"))
	assert.True(t, errors.As(err, &degen))
}

func TestMetrics_WindowOutOfRange(t *testing.T) {
	series := triSeries(day("2024-01-01"), 1, 1.01, 1.03)

	_, err := ComputeMetrics(series, day("2023-12-31"), day("2024-01-03"))
	var oor *WindowOutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.Equal(t, day("2023-12-31"), oor.Missing)

	_, err = ComputeMetrics(series, day("2024-01-01"), day("2024-01-09"))
	require.True(t, errors.As(err, &oor))
	assert.Equal(t, day("2024-01-09"), oor.Missing)
	assert.True(t, IsPermanent(err))
}

func TestMetrics_UnsortedInput(t *testing.T) {
	series := triSeries(day("2024-01-01"), 1.0, 1.05, 0.95, 1.10)
	series[0], series[3] = series[3], series[0]

	m, err := ComputeMetrics(series, day("2024-01-01"), day("2024-01-04"))
	require.NoError(t, err)
	assert.InDelta(t, 0.10, m.TotalReturn, 1e-12)
}

func TestMaxDrawdown_Empty(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown(nil))
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsPermanent(errors.New("connection reset")))
	assert.True(t, IsPermanent(&InsufficientHistoryError{ETFID: "X"}))
	assert.True(t, IsPermanent(&CurrencyMismatchError{ETFID: "X"}))
	assert.True(t, IsPermanent(&DegenerateWindowError{Reason: "x"}))
}
