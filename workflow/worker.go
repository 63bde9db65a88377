package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/coord"
	"github.com/jing2uo/etf2db/database"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EnqueueStage 为地区内每个未退市标的投递一个阶段任务
func EnqueueStage(ctx context.Context, db database.DataRepository, q coord.Queue, region model.Region, stage coord.Stage, asOf time.Time) (int, error) {
	insts, err := ActiveInstruments(ctx, db, region)
	if err != nil {
		return 0, err
	}
	tasks := make([]coord.Task, len(insts))
	for i, inst := range insts {
		tasks[i] = coord.NewTask(inst.ETFID, region, stage, asOf)
	}
	if err := q.Enqueue(ctx, tasks...); err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{
		"region": region,
		"stage":  stage,
		"tasks":  len(tasks),
		"queue":  coord.QueueName(region, stage),
	}).Info("📮 任务已投递")
	return len(tasks), nil
}

// Worker 消费一个地区的队列，阶段成功后投递下一阶段，瞬时失败重新入队
type Worker struct {
	Runner      *Runner
	Repo        database.DataRepository
	Queue       coord.Queue
	Region      model.Region
	MaxAttempts int
	Concurrency int
	PollTimeout time.Duration

	log *logrus.Entry
}

func NewWorker(runner *Runner, repo database.DataRepository, q coord.Queue, region model.Region, maxAttempts, concurrency int, log *logrus.Entry) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		Runner:      runner,
		Repo:        repo,
		Queue:       q,
		Region:      region,
		MaxAttempts: maxAttempts,
		Concurrency: concurrency,
		PollTimeout: 5 * time.Second,
		log:         utils.Logger(log, "worker").WithField("region", region),
	}
}

// Run 阻塞直到 ctx 取消
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("concurrency", w.Concurrency).Info("👷 worker 启动")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.Concurrency; i++ {
		g.Go(func() error {
			for {
				task, err := w.Queue.Dequeue(gctx, w.Region, w.PollTimeout, coord.WorkerStages...)
				if gctx.Err() != nil {
					return nil
				}
				if err != nil {
					w.log.WithError(err).Warn("⚠️ 出队失败")
					select {
					case <-gctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					continue
				}
				if task == nil {
					continue
				}
				if err := w.Handle(gctx, *task); err != nil {
					w.log.WithError(err).WithField("etf_id", task.ETFID).Error("❌ 任务处理失败")
				}
			}
		})
	}
	err := g.Wait()
	w.log.Info("👋 worker 退出")
	return err
}

// Handle 执行一个任务并决定后续：成功进入下一阶段，瞬时错误重新入队，领域错误丢弃
func (w *Worker) Handle(ctx context.Context, task coord.Task) error {
	log := w.log.WithFields(logrus.Fields{
		"etf_id":  task.ETFID,
		"stage":   task.Stage,
		"attempt": task.Attempt,
		"task_id": task.ID,
	})

	inst, err := w.Repo.GetInstrument(ctx, task.ETFID)
	if err != nil {
		return w.requeue(ctx, task, log, fmt.Errorf("load instrument: %w", err))
	}
	if inst == nil || !inst.Active() {
		log.Warn("⚠️ 标的不存在或已退市，丢弃任务")
		return nil
	}
	asOf, err := task.AsOfDate()
	if err != nil {
		log.WithError(err).Warn("⚠️ 任务日期无效，丢弃任务")
		return nil
	}

	outcome, err := w.Runner.RunStage(ctx, task.Stage, *inst, asOf)
	if err != nil {
		if IsPermanent(err) {
			log.WithError(err).Warn("⚠️ 标的暂缓处理")
			return nil
		}
		return w.requeue(ctx, task, log, err)
	}

	log.WithFields(logrus.Fields{"rows": outcome.Rows, "skipped": outcome.Skipped}).Debug("阶段完成")
	if next, ok := task.Stage.Next(); ok {
		if err := w.Queue.Enqueue(ctx, task.Advance(next)); err != nil {
			return fmt.Errorf("enqueue %s stage: %w", next, err)
		}
	}
	return nil
}

func (w *Worker) requeue(ctx context.Context, task coord.Task, log *logrus.Entry, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	if task.Attempt >= w.MaxAttempts {
		return fmt.Errorf("giving up after %d attempts: %w", task.Attempt+1, cause)
	}
	log.WithError(cause).Warn("⏳ 重新入队")
	if err := w.Queue.Enqueue(ctx, task.Retry()); err != nil {
		return errors.Join(cause, fmt.Errorf("requeue: %w", err))
	}
	return nil
}
