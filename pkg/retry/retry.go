package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy 统一的重试策略。
// 场所提交、RPC 调用、价格源请求都用同一份策略，避免在各调用点各写一套退避。
type Policy struct {
	MaxAttempts int              // 最大尝试次数（含首次），<=0 视为 1
	BaseDelay   time.Duration    // 首次重试前的基础等待
	MaxDelay    time.Duration    // 指数退避的上限
	Jitter      float64          // 抖动比例 [0,1]，例如 0.2 表示 ±20%
	Retryable   func(error) bool // 返回 false 的错误立即放弃（默认全部可重试）
}

// Default 默认策略：3 次尝试，500ms 起步指数退避，20% 抖动
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

// Do 执行 fn，失败则按策略退避重试。
// ctx 取消时立即返回 ctx.Err()；重试耗尽时返回最后一次的错误。
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(p.backoff(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// backoff 第 i 次失败后的等待时长（指数 + 抖动）
func (p Policy) backoff(i int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << uint(i)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		delta := float64(d) * p.Jitter
		d = time.Duration(float64(d) - delta + rand.Float64()*2*delta)
	}
	return d
}
