package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jing2uo/etf2db/database"
	"github.com/jing2uo/etf2db/discovery"
	"github.com/jing2uo/etf2db/model"
	"github.com/sirupsen/logrus"
)

// TaskState represents the state of a task execution
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateSkipped   TaskState = "skipped"
	StateFailed    TaskState = "failed"
)

// TaskResult holds the execution result of a task
type TaskResult struct {
	State    TaskState
	Rows     int
	Message  string
	Error    error
	Duration time.Duration
}

type ErrorMode int

const (
	ErrorModeStop ErrorMode = iota
	ErrorModeSkip
)

// TaskFunc is the function that executes a task
type TaskFunc func(ctx context.Context, db database.DataRepository, args *TaskArgs) (*TaskResult, error)

// SkipCondition determines if a task should be skipped
type SkipCondition func(ctx context.Context, db database.DataRepository, args *TaskArgs) bool

// Task represents a unit of work with dependencies
type Task struct {
	Name      string
	DependsOn []string
	Executor  TaskFunc
	SkipIf    SkipCondition
	OnError   ErrorMode
}

// TaskArgs 一轮地区周期内各任务共享的参数与中间结果
type TaskArgs struct {
	Region      model.Region
	AsOf        time.Time
	Concurrency int

	Runner    *Runner
	Source    discovery.Source
	Aligner   *discovery.Aligner
	Publisher Publisher

	// Instruments 由 align 写入；未执行 align 时从库中读取
	Instruments []model.Instrument

	mu      sync.Mutex
	touched map[string]time.Time
	failed  map[string]struct{}
}

// markFailed 本轮某阶段失败或暂缓的标的，后续阶段不再处理
func (a *TaskArgs) markFailed(etfID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed == nil {
		a.failed = make(map[string]struct{})
	}
	a.failed[etfID] = struct{}{}
}

func (a *TaskArgs) Failed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.failed))
	for id := range a.failed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// pending 去掉本轮已失败的标的
func (a *TaskArgs) pending(insts []model.Instrument) []model.Instrument {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.failed) == 0 {
		return insts
	}
	out := make([]model.Instrument, 0, len(insts))
	for _, inst := range insts {
		if _, ok := a.failed[inst.ETFID]; !ok {
			out = append(out, inst)
		}
	}
	return out
}

// markTouched 记录本轮写入的最早 TRI 日期，供 publish 增量推送
func (a *TaskArgs) markTouched(etfID string, from time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.touched == nil {
		a.touched = make(map[string]time.Time)
	}
	if prev, ok := a.touched[etfID]; !ok || from.Before(prev) {
		a.touched[etfID] = from
	}
}

func (a *TaskArgs) Touched() map[string]time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]time.Time, len(a.touched))
	for k, v := range a.touched {
		out[k] = v
	}
	return out
}

// TaskExecutor manages and executes tasks with dependency resolution
type TaskExecutor struct {
	db    database.DataRepository
	tasks map[string]*Task
	log   *logrus.Entry
}

// NewTaskExecutor creates a new task executor
func NewTaskExecutor(db database.DataRepository, tasks map[string]*Task, log *logrus.Entry) *TaskExecutor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TaskExecutor{
		db:    db,
		tasks: tasks,
		log:   log.WithField("component", "workflow"),
	}
}

func (te *TaskExecutor) Run(ctx context.Context, taskNames []string, args *TaskArgs) (map[string]*TaskResult, error) {
	results := make(map[string]*TaskResult)
	if len(taskNames) == 0 {
		return results, nil
	}

	order, err := te.topologicalSort(taskNames)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve task dependencies: %w", err)
	}

	pending := make(map[string]bool)
	for _, name := range order {
		pending[name] = true
	}

	var mu sync.Mutex
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		ready := te.findReadyTasks(pending, results)
		if len(ready) == 0 {
			// 依赖的任务失败但允许跳过时，下游任务不再执行
			for name := range pending {
				results[name] = &TaskResult{State: StateSkipped, Message: "dependency not satisfied"}
			}
			break
		}

		var wg sync.WaitGroup
		for _, name := range ready {
			task := te.tasks[name]

			if task.SkipIf != nil && task.SkipIf(ctx, te.db, args) {
				mu.Lock()
				results[name] = &TaskResult{State: StateSkipped, Message: "skipped by condition"}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(n string, t *Task) {
				defer wg.Done()
				r := te.executeTask(ctx, t, args)
				mu.Lock()
				results[n] = r
				mu.Unlock()
			}(name, task)
		}

		wg.Wait()

		for _, name := range ready {
			result := results[name]
			te.logResult(name, result)
			if result.Error != nil && te.tasks[name].OnError == ErrorModeStop {
				return results, fmt.Errorf("task %s failed: %w", name, result.Error)
			}
			delete(pending, name)
		}
	}

	return results, nil
}

func (te *TaskExecutor) executeTask(ctx context.Context, task *Task, args *TaskArgs) *TaskResult {
	start := time.Now()
	result, err := task.Executor(ctx, te.db, args)
	if err != nil {
		return &TaskResult{
			State:    StateFailed,
			Error:    err,
			Duration: time.Since(start),
		}
	}
	if result == nil {
		result = &TaskResult{State: StateCompleted}
	}
	result.Duration = time.Since(start)
	return result
}

func (te *TaskExecutor) logResult(name string, r *TaskResult) {
	entry := te.log.WithFields(logrus.Fields{
		"task":     name,
		"state":    r.State,
		"rows":     r.Rows,
		"duration": r.Duration.Round(time.Millisecond),
	})
	switch r.State {
	case StateFailed:
		entry.WithError(r.Error).Error("❌ 任务失败")
	case StateSkipped:
		entry.Info("🌲 " + r.Message)
	default:
		entry.Info("✅ 任务完成")
	}
}

func (te *TaskExecutor) topologicalSort(taskNames []string) ([]string, error) {
	inDegree := make(map[string]int)
	adj := make(map[string][]string)
	taskSet := make(map[string]bool)

	for _, name := range taskNames {
		if _, exists := te.tasks[name]; !exists {
			return nil, fmt.Errorf("task %s not found", name)
		}
		taskSet[name] = true
		inDegree[name] = 0
	}

	for _, name := range taskNames {
		task := te.tasks[name]
		for _, dep := range task.DependsOn {
			if !taskSet[dep] {
				continue
			}
			adj[dep] = append(adj[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, neighbor := range adj[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(order) != len(taskNames) {
		return nil, fmt.Errorf("circular dependency detected")
	}

	return order, nil
}

// findReadyTasks 只考虑本次请求的任务之间的依赖
func (te *TaskExecutor) findReadyTasks(pending map[string]bool, results map[string]*TaskResult) []string {
	var ready []string

	for name := range pending {
		task := te.tasks[name]

		allDepsDone := true
		for _, dep := range task.DependsOn {
			result, exists := results[dep]
			if !exists {
				if pending[dep] {
					allDepsDone = false
					break
				}
				continue
			}
			if result.State != StateCompleted && result.State != StateSkipped {
				allDepsDone = false
				break
			}
		}

		if allDepsDone {
			ready = append(ready, name)
		}
	}

	sort.Strings(ready)
	return ready
}

func (te *TaskExecutor) GetTaskNames() []string {
	names := make([]string, 0, len(te.tasks))
	for name := range te.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (te *TaskExecutor) HasTask(name string) bool {
	_, exists := te.tasks[name]
	return exists
}
