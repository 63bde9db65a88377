package calc

import (
	"sync"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/jing2uo/etf2db/model"
)

const (
	maShortPeriod = 5
	maLongPeriod  = 20
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
)

// IndicatorRow 导出用的日度行：收盘、TRI 与技术指标
// Warm 为 false 时指标仍处于预热期，数值为 0
type IndicatorRow struct {
	ETFID      string    `col:"etf_id"      parquet:"etf_id,dict"`
	Date       time.Time `col:"date"        parquet:"date"        type:"date"`
	Close      float64   `col:"close"       parquet:"close"`
	AdjClose   float64   `col:"adj_close"   parquet:"adj_close"`
	TRI        float64   `col:"tri"         parquet:"tri"`
	MA5        float64   `col:"ma5"         parquet:"ma5"`
	MA20       float64   `col:"ma20"        parquet:"ma20"`
	RSI14      float64   `col:"rsi14"       parquet:"rsi14"`
	MACD       float64   `col:"macd"        parquet:"macd"`
	MACDSignal float64   `col:"macd_signal" parquet:"macd_signal"`
	MACDHist   float64   `col:"macd_hist"   parquet:"macd_hist"`
	Warm       bool      `col:"warm"        parquet:"warm"`
}

// ComputeIndicators joins bars with TRI points by date and attaches MA5,
// MA20, RSI14 and MACD(12,26,9) computed over closes.
func ComputeIndicators(bars []model.PriceBar, tri []model.TRIPoint) []IndicatorRow {
	bars = sortedBars(bars)
	n := len(bars)
	if n == 0 {
		return nil
	}

	triByDate := make(map[time.Time]float64, len(tri))
	for _, p := range tri {
		triByDate[p.TRIDate] = p.TRI
	}

	closes := make([]float64, n)
	rows := make([]IndicatorRow, n)
	for i, b := range bars {
		closes[i] = b.Close
		rows[i] = IndicatorRow{
			ETFID:    b.ETFID,
			Date:     b.TradeDate,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			TRI:      triByDate[b.TradeDate],
		}
	}

	ma5 := alignRight(n, sma(closes, maShortPeriod))
	ma20 := alignRight(n, sma(closes, maLongPeriod))
	rsi := alignRight(n, rsiValues(closes))
	macdLine, signal := macdValues(closes)
	macd := alignRight(n, macdLine)
	sig := alignRight(n, signal)

	for i := range rows {
		rows[i].Warm = ma5[i].ok && ma20[i].ok && rsi[i].ok && macd[i].ok && sig[i].ok
		rows[i].MA5 = ma5[i].v
		rows[i].MA20 = ma20[i].v
		rows[i].RSI14 = rsi[i].v
		rows[i].MACD = macd[i].v
		rows[i].MACDSignal = sig[i].v
		if macd[i].ok && sig[i].ok {
			rows[i].MACDHist = macd[i].v - sig[i].v
		}
	}
	return rows
}

type slot struct {
	v  float64
	ok bool
}

// alignRight 指标输出比输入短（去掉预热期），按末尾对齐回输入长度
func alignRight(n int, values []float64) []slot {
	out := make([]slot, n)
	offset := n - len(values)
	for i, v := range values {
		if j := offset + i; j >= 0 && j < n {
			out[j] = slot{v: v, ok: true}
		}
	}
	return out
}

func sma(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	ind := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(ind.Compute(helper.SliceToChan(closes)))
}

func rsiValues(closes []float64) []float64 {
	if len(closes) < rsiPeriod+1 {
		return nil
	}
	ind := momentum.NewRsiWithPeriod[float64](rsiPeriod)
	return helper.ChanToSlice(ind.Compute(helper.SliceToChan(closes)))
}

func macdValues(closes []float64) ([]float64, []float64) {
	if len(closes) < macdSlow+macdSignal {
		return nil, nil
	}
	ind := trend.NewMacdWithPeriod[float64](macdFast, macdSlow, macdSignal)
	lineCh, signalCh := ind.Compute(helper.SliceToChan(closes))

	// 两个输出通道需要同时消费
	var signal []float64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		signal = helper.ChanToSlice(signalCh)
	}()
	line := helper.ChanToSlice(lineCh)
	wg.Wait()

	if len(signal) < len(line) {
		line = line[len(line)-len(signal):]
	} else if len(line) < len(signal) {
		signal = signal[len(signal)-len(line):]
	}
	return line, signal
}
