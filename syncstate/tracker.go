package syncstate

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/sirupsen/logrus"
)

// 日期配置不可用时的兜底起点
var baselineStart = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	SourceCursor    = "cursor"
	SourceInception = "inception"
	SourceDefault   = "default"
	SourceBaseline  = "baseline"
)

// Store 游标读写所需的持久化能力，database.DataRepository 满足该接口
type Store interface {
	GetSyncState(ctx context.Context, etfID string) (*model.SyncState, error)
	EnsureSyncState(ctx context.Context, etfIDs ...string) error
	AdvanceSyncState(ctx context.Context, etfID string, kind model.SeriesKind, last time.Time, count int64) (bool, error)
	SeriesSummary(ctx context.Context, etfID string, kind model.SeriesKind) (model.SeriesSummary, error)
	QueryTRI(ctx context.Context, etfID string, start, end *time.Time) ([]model.TRIPoint, error)
}

// FetchPlan 一次增量抓取的日期区间（闭区间）
type FetchPlan struct {
	ETFID  string
	Series model.SeriesKind
	Start  time.Time
	End    time.Time
	Anchor *time.Time
	Count  int64
	Source string
}

func (p *FetchPlan) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

type Tracker struct {
	store        Store
	defaultStart time.Time
	log          *logrus.Entry

	// Now 可替换，便于测试
	Now func() time.Time
}

func NewTracker(store Store, defaultStart time.Time, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		store:        store,
		defaultStart: defaultStart,
		log:          log.WithField("component", "syncstate"),
		Now:          time.Now,
	}
}

func (t *Tracker) today() time.Time {
	return model.TruncateDay(t.Now())
}

// Plan 计算下一次抓取区间，数据已是最新时返回 nil
func (t *Tracker) Plan(ctx context.Context, inst model.Instrument, series model.SeriesKind) (*FetchPlan, error) {
	state, err := t.store.GetSyncState(ctx, inst.ETFID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state for %s: %w", inst.ETFID, err)
	}
	anchor, count := state.Cursor(series)
	end := t.today()

	var start time.Time
	var source string
	if anchor != nil {
		start = model.TruncateDay(*anchor).AddDate(0, 0, 1)
		source = SourceCursor
	} else {
		start, source = t.lowerBound(inst, end)
	}

	log := t.log.WithFields(logrus.Fields{"etf_id": inst.ETFID, "series": series})
	if start.After(end) {
		log.Debugf("✅ 无需补数据 (start=%s > end=%s)", start.Format(model.DateLayout), end.Format(model.DateLayout))
		return nil, nil
	}

	plan := &FetchPlan{
		ETFID:  inst.ETFID,
		Series: series,
		Start:  start,
		End:    end,
		Anchor: anchor,
		Count:  count,
		Source: source,
	}
	log.WithFields(logrus.Fields{
		"start":  plan.Start.Format(model.DateLayout),
		"end":    plan.End.Format(model.DateLayout),
		"days":   plan.Days(),
		"count":  plan.Count,
		"source": plan.Source,
	}).Info("📅 抓取计划")
	return plan, nil
}

// lowerBound 首次抓取的起点：成立日与默认起点取较晚者
func (t *Tracker) lowerBound(inst model.Instrument, today time.Time) (time.Time, string) {
	lower, source := model.TruncateDay(t.defaultStart), SourceDefault
	if t.defaultStart.IsZero() || lower.After(today) {
		lower, source = baselineStart, SourceBaseline
	}
	if inst.InceptionDate != nil {
		inc := model.TruncateDay(*inst.InceptionDate)
		if inc.After(lower) && !inc.After(today) {
			lower, source = inc, SourceInception
		}
	}
	if lower.After(today) {
		return today, SourceBaseline
	}
	return lower, source
}

// Commit 按已落库的数据推进游标，返回是否实际推进
func (t *Tracker) Commit(ctx context.Context, etfID string, series model.SeriesKind) (bool, error) {
	summary, err := t.store.SeriesSummary(ctx, etfID, series)
	if err != nil {
		return false, fmt.Errorf("failed to summarize %s for %s: %w", series, etfID, err)
	}
	if summary.Last == nil {
		return false, nil
	}

	advanced, err := t.store.AdvanceSyncState(ctx, etfID, series, *summary.Last, summary.Count)
	if err != nil {
		return false, fmt.Errorf("failed to advance %s cursor for %s: %w", series, etfID, err)
	}

	log := t.log.WithFields(logrus.Fields{
		"etf_id": etfID,
		"series": series,
		"last":   summary.Last.Format(model.DateLayout),
		"count":  summary.Count,
	})
	if advanced {
		log.Debug("🔖 游标已推进")
	} else {
		log.Debug("游标未变化")
	}
	return advanced, nil
}

// Seed 为标的补齐空的同步记录，已存在的不受影响
func (t *Tracker) Seed(ctx context.Context, etfIDs ...string) error {
	if len(etfIDs) == 0 {
		return nil
	}
	if err := t.store.EnsureSyncState(ctx, etfIDs...); err != nil {
		return fmt.Errorf("failed to seed sync state: %w", err)
	}
	return nil
}

// TRICursor 返回游标日期上的 TRI 点作为增量计算种子，nil 表示需要全量计算。
// 游标之后若已有未提交的行，会在下次计算时被覆盖
func (t *Tracker) TRICursor(ctx context.Context, etfID string) (*model.TRIPoint, error) {
	state, err := t.store.GetSyncState(ctx, etfID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state for %s: %w", etfID, err)
	}
	last, _ := state.Cursor(model.SeriesTRI)
	if last == nil {
		return nil, nil
	}

	day := model.TruncateDay(*last)
	points, err := t.store.QueryTRI(ctx, etfID, &day, &day)
	if err != nil {
		return nil, fmt.Errorf("failed to read TRI seed for %s: %w", etfID, err)
	}
	if len(points) == 0 {
		t.log.WithFields(logrus.Fields{
			"etf_id": etfID,
			"cursor": day.Format(model.DateLayout),
		}).Warn("⚠️ 游标日期缺少 TRI 记录，改为全量计算")
		return nil, nil
	}
	seed := points[len(points)-1]
	return &seed, nil
}

// Coverage 价格游标。fetch 先写完同一请求的股利再提交价格游标，
// 游标及之前的价格与股利都已完整，TRI 不能越过这个日期
func (t *Tracker) Coverage(ctx context.Context, etfID string) (*time.Time, error) {
	state, err := t.store.GetSyncState(ctx, etfID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state for %s: %w", etfID, err)
	}
	last, _ := state.Cursor(model.SeriesPrices)
	if last == nil {
		return nil, nil
	}
	day := model.TruncateDay(*last)
	return &day, nil
}
