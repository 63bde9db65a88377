package database

import (
	"context"
	"time"

	"github.com/jing2uo/etf2db/model"
)

// DataRepository 关系存储的统一接口。
// 价格与股利按主键 insert-if-absent，TRI 与回测结果按主键覆盖写入
type DataRepository interface {
	Connect(ctx context.Context) error
	Close() error

	InitSchema(ctx context.Context) error

	UpsertInstruments(ctx context.Context, insts []model.Instrument) error
	// ListInstruments region 为空时返回全部
	ListInstruments(ctx context.Context, region model.Region) ([]model.Instrument, error)
	GetInstrument(ctx context.Context, etfID string) (*model.Instrument, error)
	UpdateInstrumentStatus(ctx context.Context, etfID string, status model.InstrumentStatus) error

	InsertPrices(ctx context.Context, bars []model.PriceBar) (int64, error)
	InsertDividends(ctx context.Context, events []model.DividendEvent) (int64, error)
	UpsertTRI(ctx context.Context, points []model.TRIPoint) error
	UpsertBacktests(ctx context.Context, results []model.BacktestResult) error

	QueryPrices(ctx context.Context, etfID string, start, end *time.Time) ([]model.PriceBar, error)
	QueryDividends(ctx context.Context, etfID string, start, end *time.Time) ([]model.DividendEvent, error)
	QueryTRI(ctx context.Context, etfID string, start, end *time.Time) ([]model.TRIPoint, error)
	LatestTRI(ctx context.Context, etfID string) (*model.TRIPoint, error)
	QueryBacktests(ctx context.Context, etfID string) ([]model.BacktestResult, error)

	GetSyncState(ctx context.Context, etfID string) (*model.SyncState, error)
	EnsureSyncState(ctx context.Context, etfIDs ...string) error
	// AdvanceSyncState 条件更新游标，只有 last 晚于已存日期（或同日且计数增加）时才生效
	AdvanceSyncState(ctx context.Context, etfID string, kind model.SeriesKind, last time.Time, count int64) (bool, error)
	SeriesSummary(ctx context.Context, etfID string, kind model.SeriesKind) (model.SeriesSummary, error)
}
