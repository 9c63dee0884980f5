package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleSession_CreditsOnceAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	session := env.createSession(t, userID, domain.SessionProcessed)

	breakdown, err := env.svc.Settlement.SettleSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Breakdown{Cash: 750, Credits: 7500, XP: 157}, *breakdown)

	stored, err := env.store.FindSessionByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSettled, stored.Status)
	assert.Equal(t, int64(750), stored.EarnedCash)
	require.NotNil(t, stored.NotifiedAt)

	w := env.wallet(t, userID)
	assert.Equal(t, int64(750), w.CashBalance)
	// 7500 session credits plus the level 2 bonus.
	assert.Equal(t, int64(7520), w.CreditBalance)

	view, err := env.svc.Progression.GetProgression(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(157), view.TotalXP)
	assert.Equal(t, 2, view.Level)
	assert.Equal(t, int64(1), view.TotalSessions)
	assert.Equal(t, int64(1), view.HighQualitySessions)
	assert.Equal(t, 1, view.CurrentStreak)

	notes := env.publisher.notifications(t)
	require.Len(t, notes, 1)
	assert.Equal(t, "Session Complete!", notes[0].Title)
	assert.Equal(t, "You earned ₱7.50 and 7500 credits!", notes[0].Body)

	again, err := env.svc.Settlement.SettleSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, *breakdown, *again)
	assert.Equal(t, w.CashBalance, env.wallet(t, userID).CashBalance)
	assert.Equal(t, w.CreditBalance, env.wallet(t, userID).CreditBalance)
	assert.Len(t, env.publisher.notifications(t), 1)

	env.requireConserved(t, userID)
}

func TestSettleSession_ConcurrentDeliveriesPayOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	session := env.createSession(t, userID, domain.SessionProcessed)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Settlement.SettleSession(ctx, session.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	w := env.wallet(t, userID)
	assert.Equal(t, int64(750), w.CashBalance)
	assert.Equal(t, int64(7520), w.CreditBalance)

	txs, err := env.svc.Ledger.ListTransactions(ctx, userID, domain.TransactionListOptions{Type: domain.TxSessionEarning})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	view, err := env.svc.Progression.GetProgression(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(157), view.TotalXP)
	assert.Equal(t, int64(1), view.TotalSessions)
	assert.Len(t, env.publisher.notifications(t), 1)

	env.requireConserved(t, userID)
}

func TestSettleSession_RejectsUnscoredSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, uuid.New(), domain.SessionCompleted)

	_, err := env.svc.Settlement.SettleSession(ctx, session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotSettleable)
	assert.True(t, domain.IsPermanent(err))

	_, err = env.svc.Settlement.SettleSession(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettleSession_UnlocksSessionAchievements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	session := env.createSession(t, userID, domain.SessionProcessed)

	_, err := env.svc.Settlement.SettleSession(ctx, session.ID)
	require.NoError(t, err)

	views, err := env.svc.Achievements.ListAchievements(ctx, userID)
	require.NoError(t, err)
	unlocked := map[string]bool{}
	for _, v := range views {
		if v.UnlockedAt != nil {
			unlocked[v.Code] = true
		}
	}
	assert.True(t, unlocked["first_session"])
	assert.True(t, unlocked["first_km"])
	assert.False(t, unlocked["marathon"])
}

// catalogOutageStore fails catalog reads while down is set.
type catalogOutageStore struct {
	*store.MemoryStore
	down bool
}

func (s *catalogOutageStore) ListAchievements(ctx context.Context) ([]domain.Achievement, error) {
	if s.down {
		return nil, errors.New("catalog unavailable")
	}
	return s.MemoryStore.ListAchievements(ctx)
}

func TestSettleSession_ResumeRecoversLevelAchievement(t *testing.T) {
	var outage *catalogOutageStore
	env := newTestEnvWithStore(t, func(m *store.MemoryStore) store.Store {
		outage = &catalogOutageStore{MemoryStore: m}
		return outage
	})
	ctx := context.Background()
	userID := uuid.New()

	_, err := env.svc.Progression.AwardXP(ctx, userID, 950, domain.XPSourceManual, &domain.Reference{Type: "seed", ID: userID.String()}, nil)
	require.NoError(t, err)
	session := env.createSession(t, userID, domain.SessionProcessed)

	outage.down = true
	_, err = env.svc.Settlement.SettleSession(ctx, session.ID)
	require.NoError(t, err)
	view, err := env.svc.Progression.GetProgression(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 5, view.Level)

	outage.down = false
	_, err = env.svc.Settlement.SettleSession(ctx, session.ID)
	require.NoError(t, err)

	views, err := env.svc.Achievements.ListAchievements(ctx, userID)
	require.NoError(t, err)
	byCode := map[string]domain.AchievementView{}
	for _, v := range views {
		byCode[v.Code] = v
	}
	assert.NotNil(t, byCode["level_5"].UnlockedAt)
	assert.NotNil(t, byCode["first_session"].UnlockedAt)
	assert.Nil(t, byCode["level_10"].UnlockedAt)
	assert.Equal(t, int64(5), byCode["level_10"].Progress)
}
