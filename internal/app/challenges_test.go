package app

import (
	"context"
	"testing"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createChallenge(t *testing.T, env *testEnv, startsAt, endsAt time.Time) *domain.Challenge {
	t.Helper()
	c := &domain.Challenge{
		ID:            uuid.New(),
		Name:          "Weekend Sprint",
		Type:          "event",
		Goal:          domain.ChallengeGoal{Metric: domain.MetricDistanceKm, Target: 3},
		RewardXP:      50,
		RewardCredits: 50,
		RewardCash:    1000,
		StartsAt:      startsAt,
		EndsAt:        endsAt,
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, env.store.CreateChallenge(context.Background(), c))
	return c
}

func TestChallenge_JoinRecordClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	c := createChallenge(t, env, now.Add(-time.Hour), now.Add(time.Hour))

	_, err := env.svc.Challenges.JoinChallenge(ctx, userID, c.ID)
	require.NoError(t, err)
	_, err = env.svc.Challenges.JoinChallenge(ctx, userID, c.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = env.svc.Challenges.ClaimChallengeReward(ctx, userID, c.ID)
	require.ErrorIs(t, err, domain.ErrChallengeNotCompleted)

	first := uuid.New()
	require.NoError(t, env.svc.Challenges.RecordSession(ctx, userID, first, domain.SessionStats{DistanceMeters: 2000}, now))
	// The same session never counts twice.
	require.NoError(t, env.svc.Challenges.RecordSession(ctx, userID, first, domain.SessionStats{DistanceMeters: 2000}, now))

	views, err := env.svc.Challenges.ListChallenges(ctx, userID)
	require.NoError(t, err)
	var view domain.ChallengeView
	for _, v := range views {
		if v.ID == c.ID {
			view = v
		}
	}
	assert.Equal(t, "joined", view.Status)
	assert.Equal(t, 66, view.Progress)
	assert.Equal(t, int64(2000), view.CurrentValue)

	require.NoError(t, env.svc.Challenges.RecordSession(ctx, userID, uuid.New(), domain.SessionStats{DistanceMeters: 1500}, now))

	reward, err := env.svc.Challenges.ClaimChallengeReward(ctx, userID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Reward{XP: 50, Credits: 50, Cash: 1000}, *reward)

	_, err = env.svc.Challenges.ClaimChallengeReward(ctx, userID, c.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	w := env.wallet(t, userID)
	assert.Equal(t, int64(1000), w.CashBalance)
	assert.Equal(t, int64(50), w.CreditBalance)
	env.requireConserved(t, userID)
}

func TestChallenge_JoinErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	_, err := env.svc.Challenges.JoinChallenge(ctx, userID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ended := createChallenge(t, env, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	_, err = env.svc.Challenges.JoinChallenge(ctx, userID, ended.ID)
	assert.ErrorIs(t, err, domain.ErrChallengeEnded)

	upcoming := createChallenge(t, env, now.Add(time.Hour), now.Add(2*time.Hour))
	_, err = env.svc.Challenges.JoinChallenge(ctx, userID, upcoming.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.svc.Challenges.ClaimChallengeReward(ctx, userID, upcoming.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChallenge_SessionsAfterEndDoNotCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()
	c := createChallenge(t, env, now.Add(-time.Hour), now.Add(time.Hour))

	_, err := env.svc.Challenges.JoinChallenge(ctx, userID, c.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Challenges.RecordSession(ctx, userID, uuid.New(), domain.SessionStats{DistanceMeters: 5000}, now.Add(2*time.Hour)))
	_, err = env.svc.Challenges.ClaimChallengeReward(ctx, userID, c.ID)
	assert.ErrorIs(t, err, domain.ErrChallengeNotCompleted)
}

func TestGenerateDailyChallenges_OncePerDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Bootstrap already generated today's set.
	created, err := env.svc.Challenges.GenerateDailyChallenges(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)

	views, err := env.svc.Challenges.ListChallenges(ctx, uuid.New())
	require.NoError(t, err)
	daily := 0
	for _, v := range views {
		if v.Type == ChallengeTypeDaily {
			daily++
			assert.Equal(t, "available", v.Status)
		}
	}
	assert.Equal(t, len(DefaultDailyChallenges), daily)
}
