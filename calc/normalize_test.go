package calc

import (
	"errors"
	"testing"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

var twInstrument = model.Instrument{
	ETFID:      "0050.TW",
	Region:     model.RegionTW,
	Currency:   "TWD",
	SeriesKind: model.SeriesRawWithDividends,
}

func TestNormalizePrices_LastWriteWinsAndSorted(t *testing.T) {
	raw := []model.RawPrice{
		{Date: day("2024-01-03"), Close: 101},
		{Date: day("2024-01-02"), Close: 100},
		{Date: day("2024-01-03").Add(9 * time.Hour), Close: 102},
		{Date: day("2024-01-05"), Close: 103},
	}

	bars, err := NormalizePrices(twInstrument, raw, day("2024-01-02"), DefaultNormalizeOptions())
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, day("2024-01-02"), bars[0].TradeDate)
	assert.Equal(t, day("2024-01-03"), bars[1].TradeDate)
	assert.Equal(t, 102.0, bars[1].Close, "later record for the same date wins")
	assert.Equal(t, day("2024-01-05"), bars[2].TradeDate, "missing 01-04 is not synthesized")
	for _, b := range bars {
		assert.Equal(t, "TWD", b.Currency)
		assert.Equal(t, "0050.TW", b.ETFID)
	}
}

func TestNormalizePrices_DropsInvalidClose(t *testing.T) {
	raw := []model.RawPrice{
		{Date: day("2024-01-02"), Close: 100},
		{Date: day("2024-01-03"), Close: 0},
		{Date: day("2024-01-04"), Close: -1},
	}
	bars, err := NormalizePrices(twInstrument, raw, time.Time{}, DefaultNormalizeOptions())
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestNormalizePrices_EmptyIsNotAnError(t *testing.T) {
	bars, err := NormalizePrices(twInstrument, nil, day("2024-01-01"), DefaultNormalizeOptions())
	assert.NoError(t, err)
	assert.Empty(t, bars)
}

func TestNormalizePrices_DataGap(t *testing.T) {
	raw := []model.RawPrice{{Date: day("2024-03-01"), Close: 100}}

	_, err := NormalizePrices(twInstrument, raw, day("2024-01-01"), DefaultNormalizeOptions())
	var gap *DataGapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, day("2024-01-01"), gap.Requested)
	assert.Equal(t, day("2024-03-01"), gap.FirstAvailable)
	assert.True(t, IsPermanent(err))

	// 周末起点在容忍范围内
	raw = []model.RawPrice{{Date: day("2024-01-08"), Close: 100}}
	_, err = NormalizePrices(twInstrument, raw, day("2024-01-06"), DefaultNormalizeOptions())
	assert.NoError(t, err)
}

func TestNormalizeDividends_SplitEntriesSummed(t *testing.T) {
	raw := []model.RawDividend{
		{ExDate: day("2024-07-16"), Amount: 0.1},
		{ExDate: day("2024-01-18"), Amount: 1.0},
		{ExDate: day("2024-07-16"), Amount: 0.2},
	}

	events, flags := NormalizeDividends(twInstrument, raw, DefaultNormalizeOptions())
	assert.Empty(t, flags)
	require.Len(t, events, 2)
	assert.Equal(t, day("2024-01-18"), events[0].ExDate)
	assert.Equal(t, day("2024-07-16"), events[1].ExDate)
	assert.Equal(t, 0.3, events[1].DividendPerUnit, "decimal summation avoids 0.30000000000000004")
	assert.Equal(t, "TWD", events[1].Currency)
}

func TestNormalizeDividends_LastWriteWinsWhenNotSplit(t *testing.T) {
	raw := []model.RawDividend{
		{ExDate: day("2024-07-16"), Amount: 0.1},
		{ExDate: day("2024-07-16"), Amount: 0.7},
	}
	opts := DefaultNormalizeOptions()
	opts.SplitDividends = false

	events, _ := NormalizeDividends(twInstrument, raw, opts)
	require.Len(t, events, 1)
	assert.Equal(t, 0.7, events[0].DividendPerUnit)
}

func TestNormalizeDividends_FlagsCurrencyMismatch(t *testing.T) {
	raw := []model.RawDividend{
		{ExDate: day("2024-07-16"), Amount: 0.5, Currency: "USD"},
	}
	events, flags := NormalizeDividends(twInstrument, raw, DefaultNormalizeOptions())
	require.Len(t, events, 1)
	assert.Equal(t, "USD", events[0].Currency, "no implicit FX conversion")
	require.Len(t, flags, 1)
	assert.Equal(t, "TWD", flags[0].Expected)
}

func TestReferenceCurrency_FallsBackToRegion(t *testing.T) {
	assert.Equal(t, "USD", ReferenceCurrency(model.Instrument{Region: model.RegionUS}))
	assert.Equal(t, "TWD", ReferenceCurrency(model.Instrument{Region: model.RegionTW}))
	assert.Equal(t, "EUR", ReferenceCurrency(model.Instrument{Region: model.RegionUS, Currency: "EUR"}))
}
