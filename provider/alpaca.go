package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
	"github.com/sirupsen/logrus"
)

// AlpacaProvider 美股日线。未复权与全复权两次请求按日期合并，
// 全复权收盘价写入 AdjClose，不返回除息记录
type AlpacaProvider struct {
	client *marketdata.Client
	feed   string
	log    *logrus.Entry
}

func NewAlpacaProvider(cfg config.AlpacaConfig, log *logrus.Entry) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		feed:   cfg.Feed,
		log:    utils.Logger(log, "alpaca"),
	}
}

func (p *AlpacaProvider) Name() string { return "alpaca" }

func (p *AlpacaProvider) bars(symbol string, start, end time.Time, adj marketdata.Adjustment) ([]marketdata.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: adj,
		Start:      model.TruncateDay(start),
		End:        model.TruncateDay(end).AddDate(0, 0, 1),
	}
	if p.feed != "" {
		req.Feed = marketdata.Feed(p.feed)
	}
	bars, err := p.client.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars(%s, %s): %w", symbol, adj, err)
	}
	return bars, nil
}

func (p *AlpacaProvider) Fetch(ctx context.Context, inst model.Instrument, start, end time.Time) (*model.RawSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := p.bars(inst.ETFID, start, end, marketdata.Raw)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	adjusted, err := p.bars(inst.ETFID, start, end, marketdata.All)
	if err != nil {
		return nil, err
	}

	// 日线时间戳为美东零点，UTC 日期与交易日一致
	adjByDay := make(map[time.Time]float64, len(adjusted))
	for _, b := range adjusted {
		adjByDay[model.TruncateDay(b.Timestamp.UTC())] = b.Close
	}

	series := emptySeries(inst)
	if series.Currency == "" {
		series.Currency = model.RegionUS.Currency()
	}
	for _, b := range raw {
		d := model.TruncateDay(b.Timestamp.UTC())
		adjClose, ok := adjByDay[d]
		if !ok {
			adjClose = b.Close
		}
		series.Prices = append(series.Prices, model.RawPrice{
			Date:     d,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: adjClose,
			Volume:   int64(b.Volume),
		})
	}

	p.log.WithFields(logrus.Fields{
		"etf_id": inst.ETFID,
		"prices": len(series.Prices),
	}).Debug("🌐 Alpaca 抓取完成")
	return series, nil
}
