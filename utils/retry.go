package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// RetryPolicy 指数退避重试参数。MaxRetries 为失败后的额外尝试次数
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
	}
}

// Retry 执行 fn，遇到瞬时错误按策略退避重试。
// permanent 返回 true 的错误立即返回，不再重试
func Retry(ctx context.Context, policy RetryPolicy, log *logrus.Entry, permanent func(error) bool, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if policy.InitialDelay > 0 {
		b.InitialInterval = policy.InitialDelay
	}
	if policy.MaxDelay > 0 {
		b.MaxInterval = policy.MaxDelay
	}

	tries := uint(1)
	if policy.MaxRetries > 0 {
		tries += uint(policy.MaxRetries)
	}

	op := func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && permanent != nil && permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, wait time.Duration) {
		Logger(log, "retry").WithError(err).Warnf("⏳ %s 后重试", wait.Round(time.Millisecond))
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(notify),
	)
	return err
}
