package cmd

import (
	"context"
	"fmt"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/coord"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/workflow"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Enqueue 为地区内每个未退市标的投递一个阶段任务
func Enqueue(ctx context.Context, cfg *config.Config, regions []model.Region, stage coord.Stage, asOfStr string) error {
	asOf, err := ParseAsOf(asOfStr)
	if err != nil {
		return err
	}
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.Coord.Distributed() {
		return fmt.Errorf("redis.addr is required: the in-process queue is not visible to workers")
	}

	total := 0
	for _, region := range regions {
		n, err := workflow.EnqueueStage(ctx, app.DB, app.Coord.Queue, region, stage, asOf)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", region, err)
		}
		total += n
	}
	fmt.Printf("📮 已投递 %d 个 %s 任务\n", total, stage)
	return nil
}

// Worker 消费队列直到 ctx 取消。每个地区一组消费者
func Worker(ctx context.Context, cfg *config.Config, regions []model.Region, concurrency int) error {
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.Coord.Distributed() {
		logrus.Warn("⚠️ 未配置 Redis，worker 只能处理本进程投递的任务")
	}
	if concurrency <= 0 {
		concurrency = cfg.Pipeline.Concurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		w := workflow.NewWorker(app.Runner, app.DB, app.Coord.Queue, region, cfg.Retry.MaxRetries, concurrency, nil)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}
