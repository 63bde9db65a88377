package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/discovery"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
	"github.com/jing2uo/etf2db/workflow"
	"github.com/sirupsen/logrus"
)

// Cron 对每个地区执行一次完整周期：对齐、抓取、TRI、回测、推送
func Cron(ctx context.Context, cfg *config.Config, regions []model.Region) error {
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var errs []error
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := app.RunCycle(ctx, region, GetToday()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", region, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("workflow execution failed: %w", err)
	}

	fmt.Println("🚀 今日任务执行成功")
	return nil
}

// RunCycle 一个地区的完整周期。名单文件不存在时跳过对齐，直接处理库中标的
func (a *App) RunCycle(ctx context.Context, region model.Region, asOf time.Time) error {
	start := time.Now()
	log := logrus.WithFields(logrus.Fields{"region": region, "as_of": asOf.Format(model.DateLayout)})
	log.Info("📅 周期开始")

	args := &workflow.TaskArgs{
		Region:      region,
		AsOf:        asOf,
		Concurrency: a.Cfg.Pipeline.Concurrency,
		Runner:      a.Runner,
	}
	if path := a.Cfg.Universe.Path; path != "" && utils.CheckFile(path) == nil {
		args.Source = discovery.NewYAMLSource(path)
		args.Aligner = a.Aligner(region)
	}

	pub, err := a.Publisher(ctx)
	if err != nil {
		log.WithError(err).Warn("⚠️ ClickHouse 不可用，本轮不推送")
	} else if pub != nil {
		defer pub.Close()
		args.Publisher = pub
	}

	executor := workflow.NewTaskExecutor(a.DB, workflow.Tasks(), log)
	results, err := executor.Run(ctx, workflow.CycleOrder, args)
	if err != nil {
		return err
	}

	for _, name := range workflow.CycleOrder {
		if r, ok := results[name]; ok && r.Message != "" {
			log.WithField("task", name).Info("📊 " + r.Message)
		}
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("✅ 周期完成")
	return nil
}
