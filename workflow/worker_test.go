package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/jing2uo/etf2db/coord"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queued(t *testing.T, q coord.Queue, stage coord.Stage) int64 {
	t.Helper()
	n, err := q.Len(context.Background(), model.RegionTW, stage)
	require.NoError(t, err)
	return n
}

func TestWorker_AdvancesThroughStages(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	q := coord.NewMemoryQueue()
	w := NewWorker(e.runner, e.repo, q, model.RegionTW, 3, 1, nil)

	n, err := EnqueueStage(ctx, e.repo, q, model.RegionTW, coord.StageFetch, e.today)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, stage := range []coord.Stage{coord.StageFetch, coord.StageTRI, coord.StageBacktest} {
		task, err := q.Dequeue(ctx, model.RegionTW, 10*time.Millisecond, stage)
		require.NoError(t, err)
		require.NotNil(t, task, stage)
		assert.Equal(t, stage, task.Stage)
		require.NoError(t, w.Handle(ctx, *task))
	}

	assert.Zero(t, queued(t, q, coord.StageFetch))
	assert.Zero(t, queued(t, q, coord.StageTRI))
	assert.Zero(t, queued(t, q, coord.StageBacktest), "backtest is the last stage")
	assert.NotNil(t, cursor(t, e, model.SeriesTRI))
}

func TestWorker_TransientFailureIsRequeued(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	q := coord.NewMemoryQueue()
	w := NewWorker(e.runner, e.repo, q, model.RegionTW, 1, 1, nil)

	e.provider.failures = 100
	task := coord.NewTask("0050.TW", model.RegionTW, coord.StageFetch, e.today)
	require.NoError(t, w.Handle(ctx, task))

	retried, err := q.Dequeue(ctx, model.RegionTW, 10*time.Millisecond, coord.StageFetch)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, retried.Attempt)
	assert.Equal(t, task.ID, retried.ID)

	// 超过最大尝试次数后放弃
	err = w.Handle(ctx, *retried)
	assert.Error(t, err)
	assert.Zero(t, queued(t, q, coord.StageFetch))
}

func TestWorker_DropsUnknownAndDeferred(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	q := coord.NewMemoryQueue()
	w := NewWorker(e.runner, e.repo, q, model.RegionTW, 3, 1, nil)

	require.NoError(t, w.Handle(ctx, coord.NewTask("9999.TW", model.RegionTW, coord.StageFetch, e.today)))
	assert.Zero(t, queued(t, q, coord.StageFetch))
	assert.Zero(t, queued(t, q, coord.StageTRI))

	e.provider.err = &provider.StatusError{Provider: "fake", Code: 404, Body: "symbol not found"}

	require.NoError(t, w.Handle(ctx, coord.NewTask("0050.TW", model.RegionTW, coord.StageFetch, e.today)))
	assert.Zero(t, queued(t, q, coord.StageFetch), "client errors are not retried")
	assert.Zero(t, queued(t, q, coord.StageTRI))
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	q := coord.NewMemoryQueue()
	w := NewWorker(e.runner, e.repo, q, model.RegionTW, 3, 2, nil)
	w.PollTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, coord.NewTask("0050.TW", model.RegionTW, coord.StageFetch, e.today)))
	assert.Eventually(t, func() bool {
		return cursor(t, e, model.SeriesTRI) != nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
