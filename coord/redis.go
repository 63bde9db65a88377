package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Coordinator 锁与队列的组合，Close 释放底层连接
type Coordinator struct {
	Locker Locker
	Queue  Queue
	client *redis.Client
}

func (c *Coordinator) Close() error {
	if c.client == nil {
		return nil
	}
	logrus.Info("Redis connection closed")
	return c.client.Close()
}

// Distributed 是否跨进程共享
func (c *Coordinator) Distributed() bool {
	return c.client != nil
}

// New 配置了 Redis 时使用 Redis 锁和队列，否则退回进程内实现
func New(ctx context.Context, cfg config.RedisConfig) (*Coordinator, error) {
	if !cfg.Enabled() {
		return &Coordinator{Locker: NewLocalLocker(), Queue: NewMemoryQueue()}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logrus.WithField("addr", cfg.Addr).Info("Successfully connected to Redis")

	return &Coordinator{
		Locker: NewRedisLocker(rdb),
		Queue:  NewRedisQueue(rdb),
		client: rdb,
	}, nil
}
