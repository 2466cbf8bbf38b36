// Package ratelimit 按用户限制写操作的频率，计数保存在 Redis（GCRA 算法），多实例共享额度
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/commissionledger/pkg/config"
)

const keyPrefix = "ratelimit:"

// ErrInvalidLimit 规则不可用
var ErrInvalidLimit = errors.New("invalid rate limit")

// Limiter 判断一次请求是否在额度内
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Decision, error)
}

// Limit 每 Period 放行 Rate 次，允许瞬时突发 Burst 次。Burst 为 0 时等于 Rate。
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// LimitFromConfig 由 rate_limit 配置段构造规则
func LimitFromConfig(cfg config.RateLimitConfig) Limit {
	return Limit{Rate: cfg.Rate, Period: cfg.Period, Burst: cfg.Burst}.normalized()
}

func (l Limit) normalized() Limit {
	if l.Burst <= 0 {
		l.Burst = l.Rate
	}
	return l
}

// Validate 检查规则
func (l Limit) Validate() error {
	if l.Rate <= 0 || l.Period <= 0 {
		return fmt.Errorf("%w: rate %d per %s", ErrInvalidLimit, l.Rate, l.Period)
	}
	return nil
}

// Key 限流键，scope 区分接口，subject 通常是用户标识
func Key(scope, subject string) string {
	return keyPrefix + scope + ":" + subject
}

// Decision 一次判定。被拒绝时 RetryAfter 为距下一个可用额度的时间。
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RetryAfterHeader Retry-After 响应头的秒数，向上取整
func (d *Decision) RetryAfterHeader() string {
	return strconv.FormatInt(int64(d.RetryAfter/time.Second)+1, 10)
}

// ResetHeader 额度完全恢复的秒数
func (d *Decision) ResetHeader() string {
	return strconv.FormatInt(int64(d.ResetAfter/time.Second), 10)
}

// GCRA redis_rate 实现
type GCRA struct {
	limiter *redis_rate.Limiter
}

// NewGCRA 使用给定 Redis 客户端
func NewGCRA(rdb *redis.Client) *GCRA {
	return &GCRA{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 消耗一次额度
func (g *GCRA) Allow(ctx context.Context, key string, limit Limit) (*Decision, error) {
	limit = limit.normalized()
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	res, err := g.limiter.Allow(ctx, key, redis_rate.Limit{Rate: limit.Rate, Period: limit.Period, Burst: limit.Burst})
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return &Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}
