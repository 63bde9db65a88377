package calc

import (
	"fmt"
	"sort"

	"github.com/jing2uo/etf2db/model"
)

const DefaultTRIBase = 1.0

// TRIEngine 由价格和股利构建含息累积指数
type TRIEngine struct {
	Base                  float64
	AllowCurrencyMismatch bool
}

func NewTRIEngine(base float64, allowCurrencyMismatch bool) *TRIEngine {
	if base <= 0 {
		base = DefaultTRIBase
	}
	return &TRIEngine{Base: base, AllowCurrencyMismatch: allowCurrencyMismatch}
}

// SeriesKindOf 标的已存储的序列类型，未设置时回退到地区默认值
func SeriesKindOf(inst model.Instrument) model.PriceSeriesKind {
	if inst.SeriesKind.Valid() {
		return inst.SeriesKind
	}
	return inst.Region.DefaultSeriesKind()
}

// Compute builds TRI points for inst.
//
// Without a seed the first bar is anchored at Base and every later bar gets
// a point. With a seed TRI(D), prices must include the bar at D (or the last
// bar before it); only points after D are returned, so extending a stored
// series reproduces what a full recomputation would give.
func (e *TRIEngine) Compute(inst model.Instrument, prices []model.PriceBar, dividends []model.DividendEvent, seed *model.TRIPoint) ([]model.TRIPoint, error) {
	bars := sortedBars(prices)

	var anchor int
	var value float64
	if seed == nil {
		if len(bars) < 2 {
			return nil, &InsufficientHistoryError{ETFID: inst.ETFID, Bars: len(bars)}
		}
		anchor = 0
		value = e.Base
	} else {
		anchor = -1
		for i, b := range bars {
			if b.TradeDate.After(seed.TRIDate) {
				break
			}
			anchor = i
		}
		if anchor < 0 {
			return nil, fmt.Errorf("no price bar at or before seed date %s for %s",
				seed.TRIDate.Format(model.DateLayout), inst.ETFID)
		}
		value = seed.TRI
	}

	currency := ReferenceCurrency(inst)
	if len(bars) > 0 && bars[0].Currency != "" {
		currency = bars[0].Currency
	}

	var out []model.TRIPoint
	if seed == nil {
		out = append(out, model.TRIPoint{
			ETFID:    inst.ETFID,
			TRIDate:  bars[0].TradeDate,
			TRI:      value,
			Currency: currency,
		})
	}

	tail := bars[anchor+1:]
	if len(tail) == 0 {
		return out, nil
	}

	var err error
	switch SeriesKindOf(inst) {
	case model.SeriesAdjustedClose:
		out = e.extendAdjusted(inst, out, bars[anchor], value, tail, currency)
	default:
		out, err = e.extendWithDividends(inst, out, bars[anchor], value, tail, dividends, currency)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// extendAdjusted: TRI(t) = TRI(a) × adj(t)/adj(a)。复权价无效的日子保持前值
func (e *TRIEngine) extendAdjusted(inst model.Instrument, out []model.TRIPoint, anchor model.PriceBar, value float64, tail []model.PriceBar, currency string) []model.TRIPoint {
	anchorAdj := anchor.AdjClose
	anchorValue := value
	if !validPrice(anchorAdj) {
		anchorAdj = 0
	}

	cur := value
	for _, b := range tail {
		if validPrice(b.AdjClose) {
			if anchorAdj == 0 {
				anchorAdj = b.AdjClose
				anchorValue = cur
			}
			cur = anchorValue * b.AdjClose / anchorAdj
		}
		out = append(out, model.TRIPoint{ETFID: inst.ETFID, TRIDate: b.TradeDate, TRI: cur, Currency: currency})
	}
	return out
}

// extendWithDividends chains raw close returns and reinvests dividends at the
// close of their ex-date. On a day that is both, the price step comes first.
// An ex-date without a bar is applied on the next bar.
func (e *TRIEngine) extendWithDividends(inst model.Instrument, out []model.TRIPoint, anchor model.PriceBar, value float64, tail []model.PriceBar, dividends []model.DividendEvent, currency string) ([]model.TRIPoint, error) {
	divs := sortedDividends(dividends)
	di := 0
	for di < len(divs) && !divs[di].ExDate.After(anchor.TradeDate) {
		di++
	}

	prev := anchor
	cur := value
	for _, b := range tail {
		if validPrice(b.Close) && validPrice(prev.Close) {
			cur *= b.Close / prev.Close
		}

		var payout float64
		for di < len(divs) && !divs[di].ExDate.After(b.TradeDate) {
			d := divs[di]
			if d.Currency != "" && d.Currency != currency && !e.AllowCurrencyMismatch {
				return nil, &CurrencyMismatchError{
					ETFID:            inst.ETFID,
					Date:             d.ExDate,
					PriceCurrency:    currency,
					DividendCurrency: d.Currency,
				}
			}
			payout += d.DividendPerUnit
			di++
		}
		if payout > 0 && validPrice(b.Close) {
			cur *= 1 + payout/b.Close
		}

		if validPrice(b.Close) {
			prev = b
		}
		out = append(out, model.TRIPoint{ETFID: inst.ETFID, TRIDate: b.TradeDate, TRI: cur, Currency: currency})
	}
	return out, nil
}

func sortedBars(in []model.PriceBar) []model.PriceBar {
	if sort.SliceIsSorted(in, func(i, j int) bool { return in[i].TradeDate.Before(in[j].TradeDate) }) {
		return in
	}
	out := make([]model.PriceBar, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TradeDate.Before(out[j].TradeDate) })
	return out
}

func sortedDividends(in []model.DividendEvent) []model.DividendEvent {
	out := make([]model.DividendEvent, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExDate.Before(out[j].ExDate) })
	return out
}

// LastPoint 返回序列中最后一个点
func LastPoint(points []model.TRIPoint) (model.TRIPoint, bool) {
	if len(points) == 0 {
		return model.TRIPoint{}, false
	}
	return points[len(points)-1], true
}
