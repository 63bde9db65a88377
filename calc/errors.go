package calc

import (
	"errors"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/model"
)

// DataGapError 数据源在请求区间开头缺少历史
type DataGapError struct {
	ETFID          string
	Requested      time.Time
	FirstAvailable time.Time
	Tolerance      time.Duration
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap for %s: requested from %s but first price is %s (tolerance %s)",
		e.ETFID, e.Requested.Format(model.DateLayout), e.FirstAvailable.Format(model.DateLayout), e.Tolerance)
}

// InsufficientHistoryError 不足两根 K 线，无法计算收益
type InsufficientHistoryError struct {
	ETFID string
	Bars  int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s: %d price bars, need at least 2", e.ETFID, e.Bars)
}

// CurrencyMismatchError 股利币种与价格币种不一致且未允许混用
type CurrencyMismatchError struct {
	ETFID            string
	Date             time.Time
	PriceCurrency    string
	DividendCurrency string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch for %s on %s: prices in %s, dividend in %s",
		e.ETFID, e.Date.Format(model.DateLayout), e.PriceCurrency, e.DividendCurrency)
}

// WindowOutOfRangeError 窗口端点不在 TRI 序列中
type WindowOutOfRangeError struct {
	Start   time.Time
	End     time.Time
	Missing time.Time
}

func (e *WindowOutOfRangeError) Error() string {
	return fmt.Sprintf("window %s..%s out of range: %s not in series",
		e.Start.Format(model.DateLayout), e.End.Format(model.DateLayout), e.Missing.Format(model.DateLayout))
}

// DegenerateWindowError 窗口太短，无法计算年化指标
type DegenerateWindowError struct {
	Reason string
}

func (e *DegenerateWindowError) Error() string {
	return "degenerate window: " + e.Reason
}

// IsPermanent 领域错误重试无意义；其余错误视为瞬时 I/O 错误
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var (
		gap      *DataGapError
		short    *InsufficientHistoryError
		currency *CurrencyMismatchError
		window   *WindowOutOfRangeError
		degen    *DegenerateWindowError
	)
	return errors.As(err, &gap) ||
		errors.As(err, &short) ||
		errors.As(err, &currency) ||
		errors.As(err, &window) ||
		errors.As(err, &degen)
}
