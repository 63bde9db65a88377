package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/provider"
	"github.com/jing2uo/etf2db/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 存活探测回看的天数
const probeWindowDays = 30

// Store 名单对齐需要的持久化能力
type Store interface {
	ListInstruments(ctx context.Context, region model.Region) ([]model.Instrument, error)
	UpsertInstruments(ctx context.Context, insts []model.Instrument) error
	EnsureSyncState(ctx context.Context, etfIDs ...string) error
}

type Report struct {
	Region    model.Region
	New       []string
	Intersect []string
	Missing   []string
	Delisted  []string
	// Active 本轮需要处理的标的，按代码排序
	Active []model.Instrument
}

type Aligner struct {
	store Store
	// Probe 为 nil 时不做存活探测，状态沿用名单与库中记录
	Probe       provider.Provider
	Concurrency int
	Now         func() time.Time
	log         *logrus.Entry
}

func NewAligner(store Store, probe provider.Provider, concurrency int, log *logrus.Entry) *Aligner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Aligner{
		store:       store,
		Probe:       probe,
		Concurrency: concurrency,
		Now:         time.Now,
		log:         utils.Logger(log, "align"),
	}
}

// Align 用最新名单覆盖库中同代码记录，库中有而名单没有的保留。
// 所有代码都会写入同步表，返回未退市的标的
func (a *Aligner) Align(ctx context.Context, region model.Region, crawled []model.Instrument) (*Report, error) {
	log := a.log.WithField("region", region)
	log.Info("🔍 名单对齐开始")

	src := make(map[string]model.Instrument, len(crawled))
	for _, inst := range crawled {
		inst.ETFID = model.NormalizeID(inst.ETFID)
		if inst.ETFID == "" {
			continue
		}
		if inst.Region == "" {
			inst.Region = region
		}
		src[inst.ETFID] = inst
	}

	dbRows, err := a.store.ListInstruments(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	db := make(map[string]model.Instrument, len(dbRows))
	for _, inst := range dbRows {
		inst.ETFID = model.NormalizeID(inst.ETFID)
		db[inst.ETFID] = inst
	}

	report := &Report{Region: region}
	for id := range src {
		if _, ok := db[id]; ok {
			report.Intersect = append(report.Intersect, id)
		} else {
			report.New = append(report.New, id)
		}
	}
	for id := range db {
		if _, ok := src[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	sort.Strings(report.New)
	sort.Strings(report.Intersect)
	sort.Strings(report.Missing)

	now := a.Now().UTC()
	merged := make([]model.Instrument, 0, len(src)+len(report.Missing))
	for id, inst := range src {
		merged = append(merged, mergeInstrument(inst, db[id], now))
	}
	for _, id := range report.Missing {
		merged = append(merged, db[id])
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ETFID < merged[j].ETFID })

	if a.Probe != nil {
		a.probe(ctx, merged, log)
	}

	if err := a.store.UpsertInstruments(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to write instruments: %w", err)
	}
	ids := make([]string, len(merged))
	for i, inst := range merged {
		ids[i] = inst.ETFID
	}
	if err := a.store.EnsureSyncState(ctx, ids...); err != nil {
		return nil, fmt.Errorf("failed to seed sync state: %w", err)
	}

	for _, inst := range merged {
		if inst.Active() {
			report.Active = append(report.Active, inst)
		} else {
			report.Delisted = append(report.Delisted, inst.ETFID)
		}
	}

	log.WithFields(logrus.Fields{
		"source":    len(src),
		"db":        len(db),
		"new":       len(report.New),
		"intersect": len(report.Intersect),
		"missing":   len(report.Missing),
		"active":    len(report.Active),
		"delisted":  len(report.Delisted),
	}).Info("✅ 名单对齐完成")
	return report, nil
}

// mergeInstrument 名单整行覆盖，名单缺失的慢变字段沿用库中值，序列类型只在首次入库时确定
func mergeInstrument(inst, prev model.Instrument, now time.Time) model.Instrument {
	if inst.Currency == "" {
		inst.Currency = prev.Currency
	}
	if inst.Currency == "" {
		inst.Currency = inst.Region.Currency()
	}
	if inst.Name == "" {
		inst.Name = prev.Name
	}
	if inst.ExpenseRatio == nil {
		inst.ExpenseRatio = prev.ExpenseRatio
	}
	if inst.InceptionDate == nil {
		inst.InceptionDate = prev.InceptionDate
	}

	if prev.SeriesKind.Valid() {
		inst.SeriesKind = prev.SeriesKind
	} else if !inst.SeriesKind.Valid() {
		inst.SeriesKind = inst.Region.DefaultSeriesKind()
	}

	if inst.Status == "" {
		inst.Status = model.StatusActive
	}
	inst.UpdatedAt = now
	return inst
}

// probe 近 30 天没有行情的标记为退市；探测失败时保持原状态
func (a *Aligner) probe(ctx context.Context, insts []model.Instrument, log *logrus.Entry) {
	end := model.TruncateDay(a.Now())
	start := end.AddDate(0, 0, -probeWindowDays)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Concurrency)
	for i := range insts {
		g.Go(func() error {
			series, err := a.Probe.Fetch(gctx, insts[i], start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithError(err).WithField("etf_id", insts[i].ETFID).Warn("⚠️ 存活探测失败，保持原状态")
				return nil
			}
			if series.Empty() || len(series.Prices) == 0 {
				insts[i].Status = model.StatusDelisted
			} else {
				insts[i].Status = model.StatusActive
			}
			return nil
		})
	}
	_ = g.Wait()
}
