package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/model"
	"github.com/sirupsen/logrus"
)

// Provider 行情数据源。区间为闭区间 [start, end]，没有数据时返回空序列而不是错误
type Provider interface {
	Name() string
	Fetch(ctx context.Context, inst model.Instrument, start, end time.Time) (*model.RawSeries, error)
}

// StatusError 数据源返回的非 2xx 响应
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.Code, e.Body)
}

// Permanent 4xx 中除限流外都不值得重试
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// ForRegion 美股在配置了 Alpaca 密钥时走 Alpaca，其余走 Yahoo
func ForRegion(cfg config.ProviderConfig, region model.Region, log *logrus.Entry) Provider {
	if region == model.RegionUS && cfg.Alpaca.Enabled() {
		return NewAlpacaProvider(cfg.Alpaca, log)
	}
	return NewYahooProvider(cfg.Yahoo, cfg.Timeout, log)
}

func emptySeries(inst model.Instrument) *model.RawSeries {
	return &model.RawSeries{ETFID: inst.ETFID, Currency: inst.Currency}
}
