package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/database"
	"github.com/jing2uo/etf2db/model"
	"github.com/sirupsen/logrus"
)

// Publisher 分析库写入端，clickhouse.Publisher 实现该接口
type Publisher interface {
	PublishInstruments(ctx context.Context, insts []model.Instrument) error
	PublishTRI(ctx context.Context, points []model.TRIPoint) error
	PublishBacktests(ctx context.Context, results []model.BacktestResult) error
}

// Publish 推送标的、TRI 与回测结果。since 中有记录的标的只推送该日期之后的 TRI，
// since 为 nil 时推送全部标的的完整序列
func Publish(ctx context.Context, db database.DataRepository, pub Publisher, insts []model.Instrument, since map[string]time.Time) (int, error) {
	if err := pub.PublishInstruments(ctx, insts); err != nil {
		return 0, fmt.Errorf("publish instruments: %w", err)
	}
	total := len(insts)

	var points []model.TRIPoint
	var results []model.BacktestResult
	for _, inst := range insts {
		var from *time.Time
		if since != nil {
			d, ok := since[inst.ETFID]
			if !ok {
				continue
			}
			from = &d
		}

		tri, err := db.QueryTRI(ctx, inst.ETFID, from, nil)
		if err != nil {
			return total, fmt.Errorf("read TRI for %s: %w", inst.ETFID, err)
		}
		points = append(points, tri...)

		bt, err := db.QueryBacktests(ctx, inst.ETFID)
		if err != nil {
			return total, fmt.Errorf("read backtests for %s: %w", inst.ETFID, err)
		}
		results = append(results, bt...)
	}

	if err := pub.PublishTRI(ctx, points); err != nil {
		return total, fmt.Errorf("publish TRI: %w", err)
	}
	total += len(points)
	if err := pub.PublishBacktests(ctx, results); err != nil {
		return total, fmt.Errorf("publish backtests: %w", err)
	}
	total += len(results)

	logrus.WithFields(logrus.Fields{
		"instruments": len(insts),
		"tri":         len(points),
		"backtests":   len(results),
	}).Info("📤 已推送到 ClickHouse")
	return total, nil
}
