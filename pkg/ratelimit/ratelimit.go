package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBackoff 服务端未给出 Retry-After 时的默认退避时间
const DefaultBackoff = 60 * time.Second

// Config 限流配置
type Config struct {
	RequestsPerSecond float64 // 持续速率，<=0 表示不限流
	BurstSize         int     // 突发容量
}

// Limiter 令牌桶限流器，支持在收到 429 后整体退避
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
	now     func() time.Time
}

// New 创建限流器
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Wait 阻塞直到可以发起请求，先等待退避期结束再等待令牌
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := retryAt.Sub(l.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.limiter.Wait(ctx)
}

// RecordRateLimitError 收到限流响应后设置退避期
func (l *Limiter) RecordRateLimitError(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if retryAfter <= 0 {
		retryAfter = DefaultBackoff
	}
	until := l.now().Add(retryAfter)
	if until.After(l.retryAt) {
		l.retryAt = until
	}
}

// Allow 不阻塞地判断当前能否发起请求
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if l.now().Before(retryAt) {
		return false
	}
	return l.limiter.Allow()
}

// BackoffUntil 返回退避结束时间，零值表示没有退避
func (l *Limiter) BackoffUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retryAt
}
