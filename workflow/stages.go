package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/calc"
	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/coord"
	"github.com/jing2uo/etf2db/database"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/provider"
	"github.com/jing2uo/etf2db/syncstate"
	"github.com/jing2uo/etf2db/utils"
	"github.com/sirupsen/logrus"
)

const defaultLockTTL = 5 * time.Minute

// StageOutcome 单个标的执行一个阶段的结果
type StageOutcome struct {
	Rows    int
	Skipped bool
	Reason  string
	// From 本次写入的最早日期
	From *time.Time
}

// Runner 单个标的的 fetch / tri / backtest 阶段，周期任务和队列 worker 共用
type Runner struct {
	repo      database.DataRepository
	tracker   *syncstate.Tracker
	providers func(model.Region) provider.Provider
	locker    coord.Locker
	calc      config.CalcConfig
	retry     utils.RetryPolicy
	lockTTL   time.Duration
	log       *logrus.Entry

	Now func() time.Time
}

type RunnerOptions struct {
	Repo      database.DataRepository
	Tracker   *syncstate.Tracker
	Providers func(model.Region) provider.Provider
	Locker    coord.Locker
	Calc      config.CalcConfig
	Retry     utils.RetryPolicy
	LockTTL   time.Duration
	Log       *logrus.Entry
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.Locker == nil {
		opts.Locker = coord.NewLocalLocker()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Tracker == nil {
		opts.Tracker = syncstate.NewTracker(opts.Repo, opts.Calc.DefaultStart(), opts.Log)
	}
	return &Runner{
		repo:      opts.Repo,
		tracker:   opts.Tracker,
		providers: opts.Providers,
		locker:    opts.Locker,
		calc:      opts.Calc,
		retry:     opts.Retry,
		lockTTL:   opts.LockTTL,
		log:       utils.Logger(opts.Log, "stage"),
		Now:       time.Now,
	}
}

// IsPermanent 不值得重试的错误：领域错误和数据源的客户端错误
func IsPermanent(err error) bool {
	return calc.IsPermanent(err) || provider.IsPermanent(err)
}

func (r *Runner) withRetry(ctx context.Context, log *logrus.Entry, fn func(ctx context.Context) error) error {
	return utils.Retry(ctx, r.retry, log, IsPermanent, fn)
}

func (r *Runner) normalizeOptions(log *logrus.Entry) calc.NormalizeOptions {
	return calc.NormalizeOptions{
		GapTolerance:   r.calc.GapTolerance(),
		SplitDividends: r.calc.SplitDividends,
		Log:            log,
	}
}

// RunStage 按阶段分派，asOf 只影响 backtest
func (r *Runner) RunStage(ctx context.Context, stage coord.Stage, inst model.Instrument, asOf time.Time) (StageOutcome, error) {
	switch stage {
	case coord.StageFetch:
		return r.Fetch(ctx, inst)
	case coord.StageTRI:
		return r.TRI(ctx, inst)
	case coord.StageBacktest:
		return r.Backtest(ctx, inst, asOf)
	}
	return StageOutcome{}, fmt.Errorf("unknown stage %q", stage)
}

// Fetch 按价格与股利游标抓取一次，去重后写入。
// 两类数据都落库后才推进游标，价格游标最后提交
func (r *Runner) Fetch(ctx context.Context, inst model.Instrument) (StageOutcome, error) {
	log := r.log.WithFields(logrus.Fields{"etf_id": inst.ETFID, "stage": coord.StageFetch})

	pricePlan, err := r.tracker.Plan(ctx, inst, model.SeriesPrices)
	if err != nil {
		return StageOutcome{}, err
	}
	if pricePlan == nil {
		// 价格游标之前的股利随价格一起落库过
		return StageOutcome{Skipped: true, Reason: "up to date"}, nil
	}
	divPlan, err := r.tracker.Plan(ctx, inst, model.SeriesDividends)
	if err != nil {
		return StageOutcome{}, err
	}

	start, end, divStart := fetchWindow(pricePlan, divPlan)
	// 复权价模式多取游标当天，用它换算到库里的复权基准
	rebase := calc.SeriesKindOf(inst) == model.SeriesAdjustedClose && pricePlan.Anchor != nil
	if rebase {
		start = model.TruncateDay(*pricePlan.Anchor)
	}
	src := r.providers(inst.Region)

	var series *model.RawSeries
	err = r.withRetry(ctx, log, func(ctx context.Context) error {
		s, err := src.Fetch(ctx, inst, start, end)
		if err != nil {
			return err
		}
		series = s
		return nil
	})
	if err != nil {
		return StageOutcome{}, fmt.Errorf("fetch %s from %s: %w", inst.ETFID, src.Name(), err)
	}
	if series.Empty() {
		log.Info("🌲 数据源无新数据")
		return StageOutcome{Skipped: true, Reason: "no new data"}, nil
	}
	if inst.Currency == "" && series.Currency != "" {
		inst.Currency = series.Currency
	}

	opts := r.normalizeOptions(log)

	bars, err := calc.NormalizePrices(inst, series.Prices, pricePlan.Start, opts)
	var gap *calc.DataGapError
	if errors.As(err, &gap) {
		entry := log.WithFields(logrus.Fields{
			"requested":       gap.Requested.Format(model.DateLayout),
			"first_available": gap.FirstAvailable.Format(model.DateLayout),
		})
		if pricePlan.Anchor == nil {
			entry.Info("📅 首次入库，起点调整为数据源最早日期")
		} else {
			// 停牌或休市较长，从恢复交易的第一天续接
			entry.Warn("⚠️ 游标之后数据中断，从恢复日续接")
		}
		bars, err = calc.NormalizePrices(inst, series.Prices, time.Time{}, opts)
	}
	if err != nil {
		return StageOutcome{}, err
	}
	if rebase {
		bars, err = r.rebaseAdjusted(ctx, inst, bars, *pricePlan.Anchor, log)
		if err != nil {
			return StageOutcome{}, err
		}
	}
	bars = barsFrom(bars, pricePlan.Start)

	var events []model.DividendEvent
	if divPlan != nil {
		events, _ = calc.NormalizeDividends(inst, series.Dividends, opts)
		events = eventsFrom(events, divStart)
	}

	if len(bars) == 0 && len(events) == 0 {
		log.Info("🌲 数据源无新数据")
		return StageOutcome{Skipped: true, Reason: "no new data"}, nil
	}

	var outcome StageOutcome
	err = r.withRetry(ctx, log, func(ctx context.Context) error {
		n, err := r.repo.InsertPrices(ctx, bars)
		outcome.Rows = int(n)
		return err
	})
	if err != nil {
		return StageOutcome{}, fmt.Errorf("insert prices for %s: %w", inst.ETFID, err)
	}
	if divPlan != nil {
		var inserted int64
		err = r.withRetry(ctx, log, func(ctx context.Context) error {
			n, err := r.repo.InsertDividends(ctx, events)
			inserted = n
			return err
		})
		if err != nil {
			return StageOutcome{}, fmt.Errorf("insert dividends for %s: %w", inst.ETFID, err)
		}
		outcome.Rows += int(inserted)
		if _, err := r.tracker.Commit(ctx, inst.ETFID, model.SeriesDividends); err != nil {
			return StageOutcome{}, err
		}
	}
	if _, err := r.tracker.Commit(ctx, inst.ETFID, model.SeriesPrices); err != nil {
		return StageOutcome{}, err
	}
	if len(bars) > 0 {
		first := bars[0].TradeDate
		outcome.From = &first
	}

	log.WithField("rows", outcome.Rows).Info("📥 抓取写入完成")
	return outcome, nil
}

// fetchWindow 一次请求覆盖两个计划。价格游标之前的股利已经落库，
// 股利起点取两个计划中较晚者，缺失的股利游标不会把请求拉回默认起点
func fetchWindow(pricePlan, divPlan *syncstate.FetchPlan) (start, end, divStart time.Time) {
	start, end = pricePlan.Start, pricePlan.End
	divStart = start
	if divPlan != nil {
		if divPlan.Start.After(divStart) {
			divStart = divPlan.Start
		}
		if divPlan.End.After(end) {
			end = divPlan.End
		}
	}
	return start, end, divStart
}

// rebaseAdjusted 数据源的复权价以请求结束日为基准，期间除息会让游标当天的复权价下调。
// 按库中游标当天的复权价等比换算新数据，保持整条序列同一基准
func (r *Runner) rebaseAdjusted(ctx context.Context, inst model.Instrument, bars []model.PriceBar, anchor time.Time, log *logrus.Entry) ([]model.PriceBar, error) {
	day := model.TruncateDay(anchor)
	stored, err := r.repo.QueryPrices(ctx, inst.ETFID, &day, &day)
	if err != nil {
		return nil, fmt.Errorf("read anchor bar for %s: %w", inst.ETFID, err)
	}

	var fresh *model.PriceBar
	for i := range bars {
		if bars[i].TradeDate.Equal(day) {
			fresh = &bars[i]
			break
		}
	}
	if len(stored) == 0 || fresh == nil || stored[0].AdjClose <= 0 || fresh.AdjClose <= 0 {
		log.WithField("anchor", day.Format(model.DateLayout)).Warn("⚠️ 缺少游标当天的复权价，无法换算基准")
		return bars, nil
	}

	k := stored[0].AdjClose / fresh.AdjClose
	if k == 1 {
		return bars, nil
	}
	out := make([]model.PriceBar, len(bars))
	for i, b := range bars {
		b.AdjClose *= k
		out[i] = b
	}
	log.WithField("factor", k).Debug("复权基准已换算")
	return out, nil
}

func barsFrom(bars []model.PriceBar, start time.Time) []model.PriceBar {
	i := 0
	for i < len(bars) && bars[i].TradeDate.Before(start) {
		i++
	}
	return bars[i:]
}

func eventsFrom(events []model.DividendEvent, start time.Time) []model.DividendEvent {
	var out []model.DividendEvent
	for _, e := range events {
		if !e.ExDate.Before(start) {
			out = append(out, e)
		}
	}
	return out
}

// TRI 持有标的锁，从游标处的 TRI 点增量计算并覆盖写入
func (r *Runner) TRI(ctx context.Context, inst model.Instrument) (StageOutcome, error) {
	log := r.log.WithFields(logrus.Fields{"etf_id": inst.ETFID, "stage": coord.StageTRI})

	var lock coord.Lock
	err := r.withRetry(ctx, log, func(ctx context.Context) error {
		l, err := r.locker.Acquire(ctx, coord.LockKey(inst.ETFID), r.lockTTL)
		lock = l
		return err
	})
	if err != nil {
		return StageOutcome{}, fmt.Errorf("lock %s: %w", inst.ETFID, err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(relCtx); err != nil {
			log.WithError(err).Warn("⚠️ 释放锁失败")
		}
	}()

	// 只算到价格游标，游标之后的行可能缺少同批股利
	cover, err := r.tracker.Coverage(ctx, inst.ETFID)
	if err != nil {
		return StageOutcome{}, err
	}
	if cover == nil {
		return StageOutcome{Skipped: true, Reason: "no committed prices"}, nil
	}
	seed, err := r.tracker.TRICursor(ctx, inst.ETFID)
	if err != nil {
		return StageOutcome{}, err
	}

	var priceStart, divStart *time.Time
	if seed != nil {
		s := model.TruncateDay(seed.TRIDate)
		if !s.Before(*cover) {
			return StageOutcome{Skipped: true, Reason: "up to date"}, nil
		}
		d := s.AddDate(0, 0, 1)
		priceStart, divStart = &s, &d
	}
	bars, err := r.repo.QueryPrices(ctx, inst.ETFID, priceStart, cover)
	if err != nil {
		return StageOutcome{}, fmt.Errorf("read prices for %s: %w", inst.ETFID, err)
	}
	var divs []model.DividendEvent
	if calc.SeriesKindOf(inst) == model.SeriesRawWithDividends {
		divs, err = r.repo.QueryDividends(ctx, inst.ETFID, divStart, cover)
		if err != nil {
			return StageOutcome{}, fmt.Errorf("read dividends for %s: %w", inst.ETFID, err)
		}
	}

	engine := calc.NewTRIEngine(r.calc.TRIBase, r.calc.AllowCurrencyMismatch)
	points, err := engine.Compute(inst, bars, divs, seed)
	if err != nil {
		return StageOutcome{}, err
	}
	if len(points) == 0 {
		return StageOutcome{Skipped: true, Reason: "up to date"}, nil
	}

	err = r.withRetry(ctx, log, func(ctx context.Context) error {
		return r.repo.UpsertTRI(ctx, points)
	})
	if err != nil {
		return StageOutcome{}, fmt.Errorf("write TRI for %s: %w", inst.ETFID, err)
	}
	if _, err := r.tracker.Commit(ctx, inst.ETFID, model.SeriesTRI); err != nil {
		return StageOutcome{}, err
	}

	first := points[0].TRIDate
	log.WithFields(logrus.Fields{
		"rows":        len(points),
		"incremental": seed != nil,
	}).Info("📈 TRI 更新完成")
	return StageOutcome{Rows: len(points), From: &first}, nil
}

// Backtest 以 asOf 为结束日重算全部窗口；单个窗口失败只跳过该窗口
func (r *Runner) Backtest(ctx context.Context, inst model.Instrument, asOf time.Time) (StageOutcome, error) {
	log := r.log.WithFields(logrus.Fields{"etf_id": inst.ETFID, "stage": coord.StageBacktest})

	series, err := r.repo.QueryTRI(ctx, inst.ETFID, nil, nil)
	if err != nil {
		return StageOutcome{}, fmt.Errorf("read TRI for %s: %w", inst.ETFID, err)
	}

	results, skips := calc.Backtest(inst.ETFID, series, asOf, r.calc.Windows, r.Now().UTC())
	for _, s := range skips {
		log.WithFields(logrus.Fields{"window": s.Label, "reason": s.Reason}).Debug("跳过回测窗口")
	}
	if len(results) == 0 {
		return StageOutcome{Skipped: true, Reason: "no complete window"}, nil
	}

	err = r.withRetry(ctx, log, func(ctx context.Context) error {
		return r.repo.UpsertBacktests(ctx, results)
	})
	if err != nil {
		return StageOutcome{}, fmt.Errorf("write backtests for %s: %w", inst.ETFID, err)
	}

	log.WithFields(logrus.Fields{"rows": len(results), "skipped": len(skips)}).Info("🧮 回测完成")
	return StageOutcome{Rows: len(results)}, nil
}
