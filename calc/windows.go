package calc

import (
	"fmt"
	"sort"
	"time"

	"github.com/jing2uo/etf2db/model"
)

var DefaultWindowYears = []int{1, 3, 10}

func WindowLabel(years int) string {
	return fmt.Sprintf("%dy", years)
}

// WindowSkip 跳过的回测窗口及原因
type WindowSkip struct {
	Label  string
	Reason string
}

// Backtest runs strict calendar-year windows that end on the last TRI date
// at or before end. A window is skipped when the series starts after the
// window's target start; otherwise it begins on the first TRI date on or
// after the target start.
func Backtest(etfID string, series []model.TRIPoint, end time.Time, years []int, now time.Time) ([]model.BacktestResult, []WindowSkip) {
	if len(years) == 0 {
		years = DefaultWindowYears
	}

	points := make([]model.TRIPoint, len(series))
	copy(points, series)
	sort.SliceStable(points, func(i, j int) bool { return points[i].TRIDate.Before(points[j].TRIDate) })

	var skips []WindowSkip
	if len(points) == 0 {
		for _, y := range years {
			skips = append(skips, WindowSkip{Label: WindowLabel(y), Reason: "no TRI data"})
		}
		return nil, skips
	}

	endIdx := len(points) - 1
	if !end.IsZero() {
		end = model.TruncateDay(end)
		endIdx = sort.Search(len(points), func(i int) bool { return points[i].TRIDate.After(end) }) - 1
	}
	if endIdx < 0 {
		for _, y := range years {
			skips = append(skips, WindowSkip{Label: WindowLabel(y), Reason: "no TRI data before end date"})
		}
		return nil, skips
	}

	first := points[0].TRIDate
	windowEnd := points[endIdx].TRIDate

	var results []model.BacktestResult
	for _, y := range years {
		label := WindowLabel(y)
		target := windowEnd.AddDate(-y, 0, 0)
		if first.After(target) {
			skips = append(skips, WindowSkip{
				Label:  label,
				Reason: fmt.Sprintf("history starts %s after target start %s", first.Format(model.DateLayout), target.Format(model.DateLayout)),
			})
			continue
		}

		si := sort.Search(endIdx+1, func(i int) bool { return !points[i].TRIDate.Before(target) })
		start := points[si].TRIDate

		m, err := ComputeMetrics(points[:endIdx+1], start, windowEnd)
		if err != nil {
			skips = append(skips, WindowSkip{Label: label, Reason: err.Error()})
			continue
		}

		results = append(results, model.BacktestResult{
			ETFID:       etfID,
			StartDate:   start,
			WindowLabel: label,
			EndDate:     windowEnd,
			TotalReturn: m.TotalReturn,
			CAGR:        m.CAGR,
			Volatility:  m.Volatility,
			SharpeRatio: m.Sharpe,
			MaxDrawdown: m.MaxDrawdown,
			ComputedAt:  now,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].StartDate.Before(results[j].StartDate) })
	return results, skips
}
