package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgErrorClassification(t *testing.T) {
	wrapped := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
	}
	assert.True(t, isRetryableTxError(wrapped("40001")))
	assert.True(t, isRetryableTxError(wrapped("40P01")))
	assert.False(t, isRetryableTxError(wrapped("23505")))
	assert.False(t, isRetryableTxError(errors.New("plain")))

	assert.True(t, isUniqueViolation(wrapped("23505")))
	assert.False(t, isUniqueViolation(wrapped("40001")))
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	userID := uuid.New()
	wallet, err := s.EnsureWallet(ctx, userID)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		w, err := repo.LockWallet(ctx, wallet.ID)
		require.NoError(t, err)
		w.CashBalance = 999
		require.NoError(t, repo.UpdateWalletBalances(ctx, w))
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.FindWalletByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, after.CashBalance)
}

func TestMemoryStore_DuplicateReference(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wallet, err := s.EnsureWallet(ctx, uuid.New())
	require.NoError(t, err)

	ref := &domain.Reference{Type: "session", ID: uuid.NewString()}
	tx := func(currency domain.Currency) *domain.Transaction {
		return &domain.Transaction{
			ID:        uuid.New(),
			UserID:    wallet.UserID,
			WalletID:  wallet.ID,
			Type:      domain.TxSessionEarning,
			Currency:  currency,
			Amount:    750,
			Reference: ref,
			CreatedAt: time.Now(),
		}
	}
	require.NoError(t, s.InsertTransaction(ctx, tx(domain.CurrencyCash)))
	assert.ErrorIs(t, s.InsertTransaction(ctx, tx(domain.CurrencyCash)), ErrDuplicate)
	require.NoError(t, s.InsertTransaction(ctx, tx(domain.CurrencyCredits)))

	found, err := s.FindTransactionByReference(ctx, wallet.ID, domain.CurrencyCash, domain.TxSessionEarning, *ref)
	require.NoError(t, err)
	assert.Equal(t, int64(750), found.Amount)
}

func TestMemoryStore_SessionTransitionIsCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	session := &domain.CollectionSession{ID: uuid.New(), UserID: uuid.New(), Mode: domain.ModeExplore, Status: domain.SessionCompleted, StartedAt: time.Now()}
	require.NoError(t, s.CreateSession(ctx, session))

	ok, err := s.TransitionSession(ctx, session.ID, []domain.SessionStatus{domain.SessionCompleted}, domain.SessionProcessing, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionSession(ctx, session.ID, []domain.SessionStatus{domain.SessionCompleted}, domain.SessionProcessing, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TransitionSession(ctx, uuid.New(), []domain.SessionStatus{domain.SessionCompleted}, domain.SessionProcessing, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
