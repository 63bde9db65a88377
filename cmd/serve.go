package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/model"
	"github.com/sirupsen/logrus"
)

// Serve 常驻进程，每天在配置的时间 (UTC) 为各地区跑一次完整周期，直到 ctx 取消
func Serve(ctx context.Context, cfg *config.Config, regions []model.Region, runNow bool) error {
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	scheduler := gocron.NewScheduler(time.UTC)
	// 上一轮未结束时跳过本轮
	scheduler.SingletonModeAll()

	scheduled := 0
	for _, region := range regions {
		at := cfg.Schedule.At(string(region))
		if at == "" {
			logrus.WithField("region", region).Warn("⚠️ 未配置执行时间，跳过")
			continue
		}
		job, err := scheduler.Every(1).Day().At(at).Do(app.scheduledCycle, ctx, region)
		if err != nil {
			return fmt.Errorf("failed to schedule %s at %s: %w", region, at, err)
		}
		job.Tag(string(region))
		scheduled++
		logrus.WithFields(logrus.Fields{"region": region, "at": at + " UTC"}).Info("⏰ 已加入计划")
	}
	if scheduled == 0 {
		return fmt.Errorf("no region has a schedule time configured")
	}

	scheduler.StartAsync()
	defer scheduler.Stop()
	logrus.Info("🚀 调度已启动")

	if runNow {
		for _, region := range regions {
			if cfg.Schedule.At(string(region)) == "" {
				continue
			}
			if err := scheduler.RunByTag(string(region)); err != nil {
				logrus.WithError(err).WithField("region", region).Warn("⚠️ 立即执行失败")
			}
		}
	}

	<-ctx.Done()
	logrus.Info("👋 调度停止")
	return nil
}

func (a *App) scheduledCycle(ctx context.Context, region model.Region) {
	if ctx.Err() != nil {
		return
	}
	if err := a.RunCycle(ctx, region, GetToday()); err != nil {
		logrus.WithError(err).WithField("region", region).Error("❌ 周期执行失败")
	}
}
