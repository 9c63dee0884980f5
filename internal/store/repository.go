/**
 * @description
 * This file defines the persistence contract of the earnings-service. The
 * business logic in internal/app only ever talks to these interfaces; the
 * PostgreSQL implementation backs production and the in-memory
 * implementation backs tests and local runs.
 *
 * Every multi-statement money movement goes through Store.WithinTx: the
 * Repository handed to the callback is bound to one database transaction, so
 * a wallet update and its ledger row commit or roll back together.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is a Repository that can also open a unit of work.
type Store interface {
	Repository
	// WithinTx runs fn inside one transaction. fn must use the Repository it
	// is given, not the Store, for every read and write that belongs to the
	// unit of work. A non-nil error from fn rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// Repository defines the set of methods for interacting with storage.
type Repository interface {
	WalletRepository
	SessionRepository
	ProgressionRepository
	AchievementRepository
	ChallengeRepository
	WithdrawalRepository
}

// WalletRepository covers wallets and the append-only transaction log.
type WalletRepository interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	// LockWallet reads the wallet and holds its row lock until the unit of work ends.
	LockWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	LockWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	UpdateWalletBalances(ctx context.Context, wallet *domain.Wallet) error
	// InsertTransaction returns ErrDuplicate when a row with the same
	// wallet, currency, type and reference already exists.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByReference(ctx context.Context, walletID uuid.UUID, currency domain.Currency, txType domain.TransactionType, ref domain.Reference) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	SumTransactions(ctx context.Context, walletID uuid.UUID, currency domain.Currency) (int64, error)
}

// SessionRepository covers collection sessions. Status writes are
// compare-and-swap: they report false when the row was not in the expected state.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.CollectionSession) error
	FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.CollectionSession, error)
	TransitionSession(ctx context.Context, sessionID uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus, failureReason *string) (bool, error)
	MarkSessionProcessed(ctx context.Context, sessionID uuid.UUID, score domain.SessionScore, at time.Time) (bool, error)
	MarkSessionSettled(ctx context.Context, sessionID uuid.UUID, breakdown domain.Breakdown, at time.Time) (bool, error)
	MarkSessionNotified(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error)
	ListSessionsByStatusBefore(ctx context.Context, status domain.SessionStatus, before time.Time, limit int) ([]domain.CollectionSession, error)
}

// ProgressionRepository covers per-user progression and the XP event log.
type ProgressionRepository interface {
	FindProgression(ctx context.Context, userID uuid.UUID) (*domain.UserProgression, error)
	// LockProgression creates a level 1 row when none exists and locks it.
	LockProgression(ctx context.Context, userID uuid.UUID) (*domain.UserProgression, error)
	UpdateProgression(ctx context.Context, p *domain.UserProgression) error
	// InsertXPEvent returns ErrDuplicate for a repeated (user, source, reference).
	InsertXPEvent(ctx context.Context, event *domain.XPEvent) error
}

// AchievementRepository covers the achievement catalog and per-user state.
type AchievementRepository interface {
	UpsertAchievement(ctx context.Context, a *domain.Achievement) error
	ListAchievements(ctx context.Context) ([]domain.Achievement, error)
	FindAchievementByCode(ctx context.Context, code string) (*domain.Achievement, error)
	FindAchievementByID(ctx context.Context, achievementID uuid.UUID) (*domain.Achievement, error)
	LockUserAchievement(ctx context.Context, userID, achievementID uuid.UUID) (*domain.UserAchievement, error)
	ListUserAchievements(ctx context.Context, userID uuid.UUID) ([]domain.UserAchievement, error)
	SaveUserAchievement(ctx context.Context, ua *domain.UserAchievement) error
}

// ChallengeRepository covers time-boxed challenges and participation.
type ChallengeRepository interface {
	CreateChallenge(ctx context.Context, c *domain.Challenge) error
	FindChallengeByID(ctx context.Context, challengeID uuid.UUID) (*domain.Challenge, error)
	ListActiveChallenges(ctx context.Context, at time.Time) ([]domain.Challenge, error)
	CountChallengesStartingBetween(ctx context.Context, challengeType string, from, to time.Time) (int, error)
	LockUserChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*domain.UserChallenge, error)
	InsertUserChallenge(ctx context.Context, uc *domain.UserChallenge) error
	UpdateUserChallenge(ctx context.Context, uc *domain.UserChallenge) error
	ListUserChallenges(ctx context.Context, userID uuid.UUID) ([]domain.UserChallenge, error)
	ListOpenJoinedChallenges(ctx context.Context, userID uuid.UUID, at time.Time) ([]domain.JoinedChallenge, error)
	// InsertChallengeContribution returns ErrDuplicate when ref already counted.
	InsertChallengeContribution(ctx context.Context, userChallengeID uuid.UUID, ref domain.Reference) error
}

// WithdrawalRepository covers payout methods and withdrawals.
type WithdrawalRepository interface {
	CreatePayoutMethod(ctx context.Context, m *domain.PayoutMethod) error
	FindPayoutMethod(ctx context.Context, methodID, userID uuid.UUID) (*domain.PayoutMethod, error)
	ListPayoutMethods(ctx context.Context, userID uuid.UUID) ([]domain.PayoutMethod, error)
	SetDefaultPayoutMethod(ctx context.Context, methodID, userID uuid.UUID) error
	DeactivatePayoutMethod(ctx context.Context, methodID, userID uuid.UUID) error
	CountReservingWithdrawalsForMethod(ctx context.Context, methodID uuid.UUID) (int, error)

	CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error
	FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.Withdrawal, error)
	ListWithdrawalsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Withdrawal, error)
	// SumWithdrawalsSince totals non-failed withdrawals requested at or after since.
	SumWithdrawalsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	TransitionWithdrawal(ctx context.Context, withdrawalID uuid.UUID, from, to domain.WithdrawalStatus, t domain.WithdrawalTransition) (bool, error)
	ListWithdrawalsByStatusBefore(ctx context.Context, status domain.WithdrawalStatus, before time.Time, limit int) ([]domain.Withdrawal, error)
}
