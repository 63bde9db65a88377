package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/coord"
	"github.com/jing2uo/etf2db/database"
	"github.com/jing2uo/etf2db/database/clickhouse"
	"github.com/jing2uo/etf2db/discovery"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/provider"
	"github.com/jing2uo/etf2db/syncstate"
	"github.com/jing2uo/etf2db/utils"
	"github.com/jing2uo/etf2db/workflow"
	"github.com/sirupsen/logrus"
)

var AllRegions = []model.Region{model.RegionTW, model.RegionUS}

// App 一次命令执行用到的全部依赖
type App struct {
	Cfg     *config.Config
	DB      database.DataRepository
	Coord   *coord.Coordinator
	Tracker *syncstate.Tracker
	Runner  *workflow.Runner

	mu        sync.Mutex
	providers map[model.Region]provider.Provider
}

// Open 连接数据库并建表，准备锁、队列与阶段执行器
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	co, err := coord.New(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	app := &App{
		Cfg:       cfg,
		DB:        db,
		Coord:     co,
		providers: make(map[model.Region]provider.Provider),
	}
	app.Tracker = syncstate.NewTracker(db, cfg.Calc.DefaultStart(), nil)
	app.Runner = workflow.NewRunner(workflow.RunnerOptions{
		Repo:      db,
		Tracker:   app.Tracker,
		Providers: app.Provider,
		Locker:    co.Locker,
		Calc:      cfg.Calc,
		Retry:     RetryPolicy(cfg.Retry),
	})
	return app, nil
}

func (a *App) Close() {
	if err := a.Coord.Close(); err != nil {
		logrus.WithError(err).Warn("⚠️ 关闭 Redis 连接失败")
	}
	if err := a.DB.Close(); err != nil {
		logrus.WithError(err).Warn("⚠️ 关闭数据库失败")
	}
}

// Provider 每个地区复用同一个数据源实例
func (a *App) Provider(region model.Region) provider.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.providers[region]; ok {
		return p
	}
	p := provider.ForRegion(a.Cfg.Provider, region, nil)
	a.providers[region] = p
	return p
}

// Aligner 配置了存活探测时用地区数据源探测
func (a *App) Aligner(region model.Region) *discovery.Aligner {
	var probe provider.Provider
	if a.Cfg.Universe.ProbeLiveness {
		probe = a.Provider(region)
	}
	return discovery.NewAligner(a.DB, probe, a.Cfg.Pipeline.Concurrency, nil)
}

// Publisher 未配置 ClickHouse 时返回 nil
func (a *App) Publisher(ctx context.Context) (*clickhouse.Publisher, error) {
	uri := strings.TrimSpace(a.Cfg.Publish.ClickHouseURI)
	if uri == "" {
		return nil, nil
	}
	pub, err := clickhouse.NewPublisher(uri)
	if err != nil {
		return nil, err
	}
	if err := pub.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := pub.InitSchema(ctx); err != nil {
		pub.Close()
		return nil, fmt.Errorf("failed to initialize clickhouse schema: %w", err)
	}
	return pub, nil
}

func RetryPolicy(c config.RetryConfig) utils.RetryPolicy {
	return utils.RetryPolicy{
		MaxRetries:   c.MaxRetries,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
	}
}

// ParseRegions 解析 "tw,us"；空或 all 表示全部地区
func ParseRegions(s string) ([]model.Region, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return AllRegions, nil
	}
	var regions []model.Region
	seen := make(map[model.Region]bool)
	for _, part := range strings.Split(s, ",") {
		r, err := model.ParseRegion(part)
		if err != nil {
			return nil, err
		}
		if !seen[r] {
			seen[r] = true
			regions = append(regions, r)
		}
	}
	return regions, nil
}

// ParseAsOf 空字符串表示今天 (UTC)
func ParseAsOf(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return GetToday(), nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return d, nil
}

func GetToday() time.Time {
	return model.TruncateDay(time.Now().UTC())
}
