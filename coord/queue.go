package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jing2uo/etf2db/model"
	"github.com/redis/go-redis/v9"
)

type Stage string

const (
	StageFetch    Stage = "fetch"
	StageTRI      Stage = "tri"
	StageBacktest Stage = "backtest"
)

// WorkerStages 出队时靠后的阶段优先，先把已在途的标的做完
var WorkerStages = []Stage{StageBacktest, StageTRI, StageFetch}

func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageFetch, StageTRI, StageBacktest:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q (expected fetch, tri or backtest)", s)
}

// Next 单个标的的阶段顺序 fetch → tri → backtest
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageFetch:
		return StageTRI, true
	case StageTRI:
		return StageBacktest, true
	}
	return "", false
}

// Task 队列消息体
type Task struct {
	ID      string       `json:"id"`
	ETFID   string       `json:"etf_id"`
	Region  model.Region `json:"region"`
	Stage   Stage        `json:"stage"`
	AsOf    string       `json:"as_of"`
	Attempt int          `json:"attempt"`
}

func NewTask(etfID string, region model.Region, stage Stage, asOf time.Time) Task {
	return Task{
		ID:     uuid.NewString(),
		ETFID:  etfID,
		Region: region,
		Stage:  stage,
		AsOf:   asOf.Format(model.DateLayout),
	}
}

// Advance 同一标的进入下一阶段，重试计数清零
func (t Task) Advance(next Stage) Task {
	n := t
	n.ID = uuid.NewString()
	n.Stage = next
	n.Attempt = 0
	return n
}

func (t Task) Retry() Task {
	n := t
	n.Attempt++
	return n
}

func (t Task) AsOfDate() (time.Time, error) {
	return model.ParseDate(t.AsOf)
}

// QueueName 形如 etf2db:tw:tri
func QueueName(region model.Region, stage Stage) string {
	return fmt.Sprintf("etf2db:%s:%s", region.Lower(), stage)
}

// Queue 按地区和阶段分队列。Dequeue 超时返回 nil, nil
type Queue interface {
	Enqueue(ctx context.Context, tasks ...Task) error
	Dequeue(ctx context.Context, region model.Region, timeout time.Duration, stages ...Stage) (*Task, error)
	Len(ctx context.Context, region model.Region, stage Stage) (int64, error)
}

type RedisQueue struct {
	client redis.UniversalClient
}

func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	pipe := q.client.Pipeline()
	for _, t := range tasks {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
		pipe.LPush(ctx, QueueName(t.Region, t.Stage), body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue %d tasks: %w", len(tasks), err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, region model.Region, timeout time.Duration, stages ...Stage) (*Task, error) {
	keys := make([]string, len(stages))
	for i, s := range stages {
		keys[i] = QueueName(region, s)
	}
	res, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	// BRPOP 返回 [key, value]
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return nil, fmt.Errorf("malformed task on %s: %w", res[0], err)
	}
	return &t, nil
}

func (q *RedisQueue) Len(ctx context.Context, region model.Region, stage Stage) (int64, error) {
	return q.client.LLen(ctx, QueueName(region, stage)).Result()
}

// MemoryQueue 进程内队列，未配置 Redis 时使用
type MemoryQueue struct {
	mu    sync.Mutex
	lists map[string][]Task
	wake  chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{lists: make(map[string][]Task), wake: make(chan struct{})}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, tasks ...Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	for _, t := range tasks {
		name := QueueName(t.Region, t.Stage)
		q.lists[name] = append(q.lists[name], t)
	}
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) pop(region model.Region, stages []Stage) (*Task, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range stages {
		name := QueueName(region, s)
		if l := q.lists[name]; len(l) > 0 {
			t := l[0]
			q.lists[name] = l[1:]
			return &t, nil
		}
	}
	return nil, q.wake
}

func (q *MemoryQueue) Dequeue(ctx context.Context, region model.Region, timeout time.Duration, stages ...Stage) (*Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		t, wake := q.pop(region, stages)
		if t != nil {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
		}
	}
}

func (q *MemoryQueue) Len(_ context.Context, region model.Region, stage Stage) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lists[QueueName(region, stage)])), nil
}
