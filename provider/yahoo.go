package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
	"github.com/sirupsen/logrus"
)

const defaultYahooURL = "https://query2.finance.yahoo.com"

// YahooProvider 通过 chart v8 接口获取日线、复权收盘价和除息记录
type YahooProvider struct {
	baseURL   string
	userAgent string
	client    *http.Client
	log       *logrus.Entry
}

func NewYahooProvider(cfg config.YahooConfig, timeout time.Duration, log *logrus.Entry) *YahooProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultYahooURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooProvider{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
		log:       utils.Logger(log, "yahoo"),
	}
}

func (p *YahooProvider) Name() string { return "yahoo" }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency  string `json:"currency"`
		Symbol    string `json:"symbol"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func (p *YahooProvider) chartURL(symbol string, start, end time.Time) string {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(model.TruncateDay(start).Unix(), 10))
	// period2 不含当天，向后多取一天
	q.Set("period2", strconv.FormatInt(model.TruncateDay(end).AddDate(0, 0, 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div")
	q.Set("includeAdjustedClose", "true")
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(symbol), q.Encode())
}

func (p *YahooProvider) Fetch(ctx context.Context, inst model.Instrument, start, end time.Time) (*model.RawSeries, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.chartURL(inst.ETFID, start, end), nil)
	if err != nil {
		return nil, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo request for %s failed: %w", inst.ETFID, err)
	}
	defer resp.Body.Close()

	// 代码不存在时 Yahoo 返回 404
	if resp.StatusCode == http.StatusNotFound {
		p.log.WithField("etf_id", inst.ETFID).Warn("⚠️ Yahoo 无此代码")
		return emptySeries(inst), nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Provider: p.Name(), Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode yahoo chart for %s: %w", inst.ETFID, err)
	}
	if e := payload.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo chart error for %s: %s %s", inst.ETFID, e.Code, e.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return emptySeries(inst), nil
	}

	series := parseChart(inst, payload.Chart.Result[0])
	p.log.WithFields(logrus.Fields{
		"etf_id":    inst.ETFID,
		"prices":    len(series.Prices),
		"dividends": len(series.Dividends),
	}).Debug("🌐 Yahoo 抓取完成")
	return series, nil
}

func parseChart(inst model.Instrument, r chartResult) *model.RawSeries {
	series := emptySeries(inst)
	if r.Meta.Currency != "" {
		series.Currency = strings.ToUpper(r.Meta.Currency)
	}

	// 时间戳为交易所开盘时刻，按交易所时区换算日期
	offset := time.Duration(r.Meta.GMTOffset) * time.Second
	toDay := func(ts int64) time.Time {
		return model.TruncateDay(time.Unix(ts, 0).UTC().Add(offset))
	}

	if len(r.Indicators.Quote) > 0 {
		q := r.Indicators.Quote[0]
		var adj []*float64
		if len(r.Indicators.AdjClose) > 0 {
			adj = r.Indicators.AdjClose[0].AdjClose
		}
		for i, ts := range r.Timestamp {
			closeV := floatAt(q.Close, i)
			if closeV == 0 {
				continue
			}
			adjV := floatAt(adj, i)
			if adjV == 0 {
				adjV = closeV
			}
			var vol int64
			if i < len(q.Volume) && q.Volume[i] != nil {
				vol = *q.Volume[i]
			}
			series.Prices = append(series.Prices, model.RawPrice{
				Date:     toDay(ts),
				Open:     floatAt(q.Open, i),
				High:     floatAt(q.High, i),
				Low:      floatAt(q.Low, i),
				Close:    closeV,
				AdjClose: adjV,
				Volume:   vol,
			})
		}
	}

	for _, d := range r.Events.Dividends {
		series.Dividends = append(series.Dividends, model.RawDividend{
			ExDate:   toDay(d.Date),
			Amount:   d.Amount,
			Currency: series.Currency,
		})
	}
	return series
}

func floatAt(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}
