package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WithdrawalLimiter caps how often one user may request withdrawals.
type WithdrawalLimiter interface {
	AllowWithdrawal(ctx context.Context, userID uuid.UUID) (LimitDecision, error)
}

// LimitDecision is the outcome of one counted request.
type LimitDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds up, never below one second.
func (d LimitDecision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// RedisWithdrawalLimiter counts requests per user in fixed windows aligned to
// the window length. Each window has its own key, so a key only needs to
// outlive its window.
type RedisWithdrawalLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisWithdrawalLimiter allows perWindow requests per window. A nil
// client or a non-positive limit disables limiting.
func NewRedisWithdrawalLimiter(client redis.UniversalClient, prefix string, perWindow int, window time.Duration) *RedisWithdrawalLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "citypulse:rate_limit"
	}
	if window < time.Second {
		window = time.Minute
	}
	return &RedisWithdrawalLimiter{client: client, prefix: trimmed, limit: perWindow, window: window, now: time.Now}
}

// windowKey returns the counter key for the window holding now and the time
// left until that window closes.
func (l *RedisWithdrawalLimiter) windowKey(userID uuid.UUID, now time.Time) (string, time.Duration) {
	start := now.Truncate(l.window)
	return fmt.Sprintf("%s:withdrawal:%s:%d", l.prefix, userID, start.Unix()), start.Add(l.window).Sub(now)
}

func (l *RedisWithdrawalLimiter) AllowWithdrawal(ctx context.Context, userID uuid.UUID) (LimitDecision, error) {
	if l == nil || l.client == nil || l.limit <= 0 {
		return LimitDecision{Allowed: true}, nil
	}
	key, remaining := l.windowKey(userID, l.now())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, remaining+time.Second)
		return nil
	})
	if err != nil {
		return LimitDecision{Allowed: true}, fmt.Errorf("count withdrawal request: %w", err)
	}

	count := int(incr.Val())
	decision := LimitDecision{Allowed: count <= l.limit, Count: count}
	if !decision.Allowed {
		decision.RetryAfter = remaining
	}
	return decision, nil
}
