package app

import (
	"context"
	"testing"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_CreditIsIdempotentPerReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	wallet, err := env.store.EnsureWallet(ctx, userID)
	require.NoError(t, err)

	entry := domain.LedgerEntry{Type: domain.TxChallengeReward, Reference: &domain.Reference{Type: domain.RefChallenge, ID: "c-1"}}
	first, err := env.svc.Ledger.Credit(ctx, wallet.ID, domain.CurrencyCash, 1000, entry)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(1000), first.Transaction.BalanceAfter)

	replay, err := env.svc.Ledger.Credit(ctx, wallet.ID, domain.CurrencyCash, 1000, entry)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Transaction.ID, replay.Transaction.ID)

	w := env.wallet(t, userID)
	assert.Equal(t, int64(1000), w.CashBalance)
	assert.Equal(t, int64(1000), w.TotalCashEarned)
	env.requireConserved(t, userID)
}

func TestLedger_DebitCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	wallet, err := env.store.EnsureWallet(ctx, userID)
	require.NoError(t, err)

	_, err = env.svc.Ledger.Credit(ctx, wallet.ID, domain.CurrencyCredits, 300, domain.LedgerEntry{Type: domain.TxAchievementReward})
	require.NoError(t, err)

	_, err = env.svc.Ledger.Debit(ctx, wallet.ID, domain.CurrencyCredits, 500, domain.LedgerEntry{Type: domain.TxRefund})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(300), env.wallet(t, userID).CreditBalance)

	posting, err := env.svc.Ledger.Debit(ctx, wallet.ID, domain.CurrencyCredits, 120, domain.LedgerEntry{Type: domain.TxRefund})
	require.NoError(t, err)
	assert.Equal(t, int64(-120), posting.Transaction.Amount)
	assert.Equal(t, int64(180), posting.Balance)

	w := env.wallet(t, userID)
	assert.Equal(t, int64(180), w.CreditBalance)
	assert.Equal(t, int64(120), w.TotalCreditsSpent)
	env.requireConserved(t, userID)
}

func TestLedger_RejectsInvalidPostings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wallet, err := env.store.EnsureWallet(ctx, uuid.New())
	require.NoError(t, err)

	_, err = env.svc.Ledger.Credit(ctx, wallet.ID, domain.CurrencyCash, 0, domain.LedgerEntry{Type: domain.TxRefund})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.svc.Ledger.Debit(ctx, wallet.ID, domain.CurrencyCash, 100, domain.LedgerEntry{Type: domain.TxRefund})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.svc.Ledger.Credit(ctx, uuid.New(), domain.CurrencyCash, 100, domain.LedgerEntry{Type: domain.TxRefund})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_GetWalletReportsAvailableCash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	view, err := env.svc.Ledger.GetWallet(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, view.CashBalance)
	assert.False(t, view.CanWithdraw)

	env.fund(t, userID, 6000)
	view, err = env.svc.Ledger.GetWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), view.AvailableCash)
	assert.True(t, view.CanWithdraw)

	txs, err := env.svc.Ledger.ListTransactions(ctx, userID, domain.TransactionListOptions{Currency: domain.CurrencyCash})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	_, err = env.svc.Ledger.ListTransactions(ctx, userID, domain.TransactionListOptions{Currency: "gold"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
