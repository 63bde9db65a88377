package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jing2uo/etf2db/coord"
	"github.com/jing2uo/etf2db/database"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
	"github.com/sirupsen/logrus"
)

const (
	NameAlign    = "align"
	NameFetch    = "fetch"
	NameTRI      = "tri"
	NameBacktest = "backtest"
	NamePublish  = "publish"
)

// CycleOrder 一个地区完整周期的任务
var CycleOrder = []string{NameAlign, NameFetch, NameTRI, NameBacktest, NamePublish}

var (
	TaskAlign    *Task
	TaskFetch    *Task
	TaskTRI      *Task
	TaskBacktest *Task
	TaskPublish  *Task
)

func init() {
	TaskAlign = &Task{
		Name:      NameAlign,
		DependsOn: []string{},
		SkipIf: func(ctx context.Context, db database.DataRepository, args *TaskArgs) bool {
			return args.Source == nil || args.Aligner == nil
		},
		Executor: executeAlign,
	}

	TaskFetch = &Task{
		Name:      NameFetch,
		DependsOn: []string{NameAlign},
		Executor:  stageExecutor(coord.StageFetch),
	}

	TaskTRI = &Task{
		Name:      NameTRI,
		DependsOn: []string{NameFetch},
		Executor:  stageExecutor(coord.StageTRI),
	}

	TaskBacktest = &Task{
		Name:      NameBacktest,
		DependsOn: []string{NameTRI},
		Executor:  stageExecutor(coord.StageBacktest),
	}

	TaskPublish = &Task{
		Name:      NamePublish,
		DependsOn: []string{NameBacktest},
		SkipIf: func(ctx context.Context, db database.DataRepository, args *TaskArgs) bool {
			return args.Publisher == nil
		},
		Executor: executePublish,
		OnError:  ErrorModeSkip,
	}
}

// Tasks 全部已注册任务
func Tasks() map[string]*Task {
	return map[string]*Task{
		NameAlign:    TaskAlign,
		NameFetch:    TaskFetch,
		NameTRI:      TaskTRI,
		NameBacktest: TaskBacktest,
		NamePublish:  TaskPublish,
	}
}

func executeAlign(ctx context.Context, db database.DataRepository, args *TaskArgs) (*TaskResult, error) {
	crawled, err := args.Source.Discover(ctx, args.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s instruments: %w", args.Region, err)
	}
	report, err := args.Aligner.Align(ctx, args.Region, crawled)
	if err != nil {
		return nil, err
	}
	args.Instruments = report.Active
	if args.Instruments == nil {
		args.Instruments = []model.Instrument{}
	}
	return &TaskResult{
		State:   StateCompleted,
		Rows:    len(report.Active),
		Message: fmt.Sprintf("new=%d missing=%d delisted=%d", len(report.New), len(report.Missing), len(report.Delisted)),
	}, nil
}

// ActiveInstruments 地区内未退市的标的
func ActiveInstruments(ctx context.Context, db database.DataRepository, region model.Region) ([]model.Instrument, error) {
	all, err := db.ListInstruments(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s instruments: %w", region, err)
	}
	active := all[:0]
	for _, inst := range all {
		if inst.Active() {
			active = append(active, inst)
		}
	}
	return active, nil
}

func (a *TaskArgs) instruments(ctx context.Context, db database.DataRepository) ([]model.Instrument, error) {
	if a.Instruments != nil {
		return a.Instruments, nil
	}
	insts, err := ActiveInstruments(ctx, db, a.Region)
	if err != nil {
		return nil, err
	}
	a.Instruments = insts
	return insts, nil
}

type stageRow struct {
	etfID   string
	outcome StageOutcome
}

// stageExecutor 对地区内所有标的并发执行同一阶段，单个标的失败不影响其他标的
func stageExecutor(stage coord.Stage) TaskFunc {
	return func(ctx context.Context, db database.DataRepository, args *TaskArgs) (*TaskResult, error) {
		all, err := args.instruments(ctx, db)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return &TaskResult{State: StateSkipped, Message: "no active instruments"}, nil
		}
		// 前一阶段失败的标的本轮不再往下算
		insts := args.pending(all)
		if len(insts) == 0 {
			return &TaskResult{State: StateSkipped, Message: "all instruments failed upstream"}, nil
		}

		log := utils.Logger(nil, "workflow").WithFields(logrus.Fields{"region": args.Region, "stage": stage})
		log.WithField("instruments", len(insts)).Info("🚀 阶段开始")

		var rows, skipped int
		pipeline := utils.NewPipeline[model.Instrument, stageRow](utils.WithConcurrency(args.Concurrency))
		result, err := pipeline.Run(ctx, insts,
			func(ctx context.Context, inst model.Instrument) ([]stageRow, error) {
				outcome, err := args.Runner.RunStage(ctx, stage, inst, args.AsOf)
				if err != nil {
					args.markFailed(inst.ETFID)
					return nil, fmt.Errorf("%s: %w", inst.ETFID, err)
				}
				return []stageRow{{etfID: inst.ETFID, outcome: outcome}}, nil
			},
			func(batch []stageRow) error {
				for _, r := range batch {
					rows += r.outcome.Rows
					if r.outcome.Skipped {
						skipped++
					}
					if stage == coord.StageTRI && r.outcome.From != nil {
						args.markTouched(r.etfID, *r.outcome.From)
					}
				}
				return nil
			},
		)
		if err != nil {
			return nil, err
		}

		var deferred, failed int
		for _, e := range result.Errors {
			if IsPermanent(e) {
				deferred++
				log.WithError(e).Warn("⚠️ 标的暂缓处理")
				continue
			}
			failed++
			log.WithError(e).Error("❌ 标的处理失败")
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}

		return &TaskResult{
			State: StateCompleted,
			Rows:  rows,
			Message: fmt.Sprintf("instruments=%d skipped=%d deferred=%d failed=%d excluded=%d",
				len(insts), skipped, deferred, failed, len(all)-len(insts)),
		}, nil
	}
}

func executePublish(ctx context.Context, db database.DataRepository, args *TaskArgs) (*TaskResult, error) {
	touched := args.Touched()
	if len(touched) == 0 {
		return &TaskResult{State: StateSkipped, Message: "nothing new to publish"}, nil
	}
	insts, err := args.instruments(ctx, db)
	if err != nil {
		return nil, err
	}
	n, err := Publish(ctx, db, args.Publisher, insts, touched)
	if err != nil {
		return nil, err
	}
	return &TaskResult{State: StateCompleted, Rows: n}, nil
}
