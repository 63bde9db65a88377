package calc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIndicators_Ramp(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := barsFrom("0050.TW", "TWD", day("2024-01-02"), closes, nil)
	tri, err := NewTRIEngine(1, false).Compute(twInstrument, bars, nil, nil)
	require.NoError(t, err)

	rows := ComputeIndicators(bars, tri)
	require.Len(t, rows, 60)

	last := rows[59]
	assert.True(t, last.Warm)
	assert.InDelta(t, (155.0+156+157+158+159)/5, last.MA5, 1e-9)
	assert.InDelta(t, 149.5, last.MA20, 1e-9)
	assert.InDelta(t, 159.0/100, last.TRI, 1e-12)
	// 单边上涨，MACD 为正
	assert.Greater(t, last.MACD, 0.0)

	assert.False(t, rows[0].Warm)
	assert.Equal(t, 0.0, rows[0].MA5)
	assert.Equal(t, 1.0, rows[0].TRI)
}

func TestComputeIndicators_ShortSeries(t *testing.T) {
	bars := barsFrom("0050.TW", "TWD", day("2024-01-02"), []float64{1, 2, 3}, nil)
	rows := ComputeIndicators(bars, nil)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.False(t, r.Warm)
	}
	assert.Nil(t, ComputeIndicators(nil, nil))
}
