package calc

import (
	"math"
	"sort"
	"time"

	"github.com/jing2uo/etf2db/model"
)

const (
	TradingDaysPerYear = 252
	DaysPerYear        = 365.25
)

// Metrics 一个窗口的绩效指标，五项同时产出
type Metrics struct {
	Start       time.Time
	End         time.Time
	TotalReturn float64
	CAGR        float64
	Volatility  float64
	// nil 表示波动率为 0，夏普比率无定义
	Sharpe      *float64
	MaxDrawdown float64
	Samples     int
}

func (m Metrics) SharpeDefined() bool {
	return m.Sharpe != nil
}

// ComputeMetrics evaluates a TRI series over [start, end]. Both dates must be
// present in the series; nothing is returned unless every metric succeeds.
func ComputeMetrics(series []model.TRIPoint, start, end time.Time) (Metrics, error) {
	start = model.TruncateDay(start)
	end = model.TruncateDay(end)

	points := series
	if !sort.SliceIsSorted(points, func(i, j int) bool { return points[i].TRIDate.Before(points[j].TRIDate) }) {
		points = make([]model.TRIPoint, len(series))
		copy(points, series)
		sort.SliceStable(points, func(i, j int) bool { return points[i].TRIDate.Before(points[j].TRIDate) })
	}

	si := indexOfDate(points, start)
	if si < 0 {
		return Metrics{}, &WindowOutOfRangeError{Start: start, End: end, Missing: start}
	}
	ei := indexOfDate(points, end)
	if ei < 0 {
		return Metrics{}, &WindowOutOfRangeError{Start: start, End: end, Missing: end}
	}

	days := end.Sub(start).Hours() / 24
	if days < 1 {
		return Metrics{}, &DegenerateWindowError{Reason: "window spans less than one day"}
	}

	window := points[si : ei+1]
	if len(window) < 3 {
		return Metrics{}, &DegenerateWindowError{Reason: "fewer than 2 return observations"}
	}

	first, last := window[0].TRI, window[len(window)-1].TRI
	if first <= 0 {
		return Metrics{}, &DegenerateWindowError{Reason: "non-positive TRI at window start"}
	}

	ratio := last / first
	m := Metrics{
		Start:       start,
		End:         end,
		TotalReturn: ratio - 1,
		CAGR:        math.Pow(ratio, DaysPerYear/days) - 1,
		Samples:     len(window),
	}

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].TRI
		if prev <= 0 {
			return Metrics{}, &DegenerateWindowError{Reason: "non-positive TRI inside window"}
		}
		returns = append(returns, window[i].TRI/prev-1)
	}

	m.Volatility = sampleStdDev(returns) * math.Sqrt(TradingDaysPerYear)
	if m.Volatility != 0 {
		s := m.CAGR / m.Volatility
		m.Sharpe = &s
	}
	m.MaxDrawdown = MaxDrawdown(window)

	return m, nil
}

// MaxDrawdown 单次前向扫描，跟踪历史峰值；结果 <= 0
func MaxDrawdown(points []model.TRIPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	peak := points[0].TRI
	mdd := 0.0
	for _, p := range points {
		if p.TRI > peak {
			peak = p.TRI
			continue
		}
		if peak > 0 {
			if dd := p.TRI/peak - 1; dd < mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

func sampleStdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(n)

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

func indexOfDate(points []model.TRIPoint, d time.Time) int {
	i := sort.Search(len(points), func(i int) bool { return !points[i].TRIDate.Before(d) })
	if i < len(points) && points[i].TRIDate.Equal(d) {
		return i
	}
	return -1
}
