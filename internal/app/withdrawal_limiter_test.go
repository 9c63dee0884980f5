package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisWithdrawalLimiter_DisabledWithoutRedis(t *testing.T) {
	l := NewRedisWithdrawalLimiter(nil, "", 5, time.Minute)
	d, err := l.AllowWithdrawal(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	var nilLimiter *RedisWithdrawalLimiter
	d, err = nilLimiter.AllowWithdrawal(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisWithdrawalLimiter_WindowKey(t *testing.T) {
	l := NewRedisWithdrawalLimiter(nil, " citypulse:limits: ", 5, time.Minute)
	userID := uuid.New()
	now := time.Date(2026, 5, 1, 12, 30, 45, 0, time.UTC)

	key, remaining := l.windowKey(userID, now)
	assert.True(t, strings.HasPrefix(key, "citypulse:limits:withdrawal:"+userID.String()+":"))
	assert.Equal(t, 15*time.Second, remaining)

	sameWindow, _ := l.windowKey(userID, now.Add(10*time.Second))
	assert.Equal(t, key, sameWindow)
	nextWindow, _ := l.windowKey(userID, now.Add(20*time.Second))
	assert.NotEqual(t, key, nextWindow)
}

func TestLimitDecision_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, LimitDecision{}.RetryAfterSeconds())
	assert.Equal(t, 15, LimitDecision{RetryAfter: 14200 * time.Millisecond}.RetryAfterSeconds())
}
