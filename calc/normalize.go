package calc

import (
	"math"
	"sort"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const dividendPlaces = 6

type NormalizeOptions struct {
	// 首个可用价格日期晚于请求起点超过该值时报 DataGapError
	GapTolerance time.Duration
	// 同一除息日多条记录时求和，否则后写覆盖
	SplitDividends bool
	Log            *logrus.Entry
}

func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		GapTolerance:   7 * 24 * time.Hour,
		SplitDividends: true,
	}
}

func (o NormalizeOptions) logger() *logrus.Entry {
	if o.Log != nil {
		return o.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// CurrencyFlag 股利币种与标的计价币种不一致，只标记不换汇
type CurrencyFlag struct {
	ExDate   time.Time
	Currency string
	Expected string
}

// ReferenceCurrency 标的计价币种，缺省时按地区推断
func ReferenceCurrency(inst model.Instrument) string {
	if inst.Currency != "" {
		return inst.Currency
	}
	return inst.Region.Currency()
}

// NormalizePrices turns raw provider bars into a date-ordered series with one
// bar per trade date. Later records win over earlier ones for the same date.
// Days without a bar stay absent.
func NormalizePrices(inst model.Instrument, raw []model.RawPrice, start time.Time, opts NormalizeOptions) ([]model.PriceBar, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	log := opts.logger()
	currency := ReferenceCurrency(inst)

	byDate := make(map[time.Time]model.PriceBar, len(raw))
	dropped := 0
	for _, r := range raw {
		if !validPrice(r.Close) {
			dropped++
			continue
		}
		day := model.TruncateDay(r.Date)
		byDate[day] = model.PriceBar{
			ETFID:     inst.ETFID,
			TradeDate: day,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			AdjClose:  r.AdjClose,
			Volume:    r.Volume,
			Currency:  currency,
		}
	}
	if dropped > 0 {
		log.WithField("dropped", dropped).Warn("⚠️ 丢弃收盘价无效的记录")
	}

	bars := make([]model.PriceBar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TradeDate.Before(bars[j].TradeDate) })

	if len(bars) > 0 && !start.IsZero() {
		requested := model.TruncateDay(start)
		first := bars[0].TradeDate
		if first.Sub(requested) > opts.GapTolerance {
			return nil, &DataGapError{
				ETFID:          inst.ETFID,
				Requested:      requested,
				FirstAvailable: first,
				Tolerance:      opts.GapTolerance,
			}
		}
	}

	return bars, nil
}

// NormalizeDividends collapses raw dividend records into one event per ex-date.
func NormalizeDividends(inst model.Instrument, raw []model.RawDividend, opts NormalizeOptions) ([]model.DividendEvent, []CurrencyFlag) {
	if len(raw) == 0 {
		return nil, nil
	}
	log := opts.logger()
	expected := ReferenceCurrency(inst)

	type acc struct {
		amount   decimal.Decimal
		currency string
	}
	byDate := make(map[time.Time]*acc, len(raw))
	for _, r := range raw {
		if !validPrice(r.Amount) {
			continue
		}
		day := model.TruncateDay(r.ExDate)
		cur := r.Currency
		if cur == "" {
			cur = expected
		}
		amt := decimal.NewFromFloat(r.Amount)

		a, ok := byDate[day]
		if !ok || !opts.SplitDividends {
			byDate[day] = &acc{amount: amt, currency: cur}
			continue
		}
		a.amount = a.amount.Add(amt)
		a.currency = cur
	}

	events := make([]model.DividendEvent, 0, len(byDate))
	var flags []CurrencyFlag
	for day, a := range byDate {
		events = append(events, model.DividendEvent{
			ETFID:           inst.ETFID,
			ExDate:          day,
			DividendPerUnit: a.amount.Round(dividendPlaces).InexactFloat64(),
			Currency:        a.currency,
		})
		if a.currency != expected {
			flags = append(flags, CurrencyFlag{ExDate: day, Currency: a.currency, Expected: expected})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ExDate.Before(events[j].ExDate) })
	sort.Slice(flags, func(i, j int) bool { return flags[i].ExDate.Before(flags[j].ExDate) })

	for _, f := range flags {
		log.WithFields(logrus.Fields{
			"ex_date":  f.ExDate.Format(model.DateLayout),
			"currency": f.Currency,
			"expected": f.Expected,
		}).Warn("⚠️ 股利币种与计价币种不一致")
	}

	return events, flags
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
