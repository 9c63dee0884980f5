/**
 * @description
 * Withdrawal settlement moves cash out of a wallet through a payout provider.
 *
 * A request is validated, recorded as pending and reserved in
 * wallet.pending_cash in one unit of work before anything external happens.
 * The worker then claims the withdrawal (pending -> processing), makes exactly
 * one payout call, and in a second unit of work either completes it (the
 * reservation becomes a negative withdrawal transaction) or fails it (the
 * reservation is released). Both terminal writes are compare-and-swap on the
 * status, so the reservation is released exactly once.
 *
 * @dependencies
 * - github.com/shopspring/decimal: For the percentage fee.
 * - pkg/payout: The provider gateway.
 * - pkg/rabbitmq: The withdrawal work queue.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/citypulse/earnings-service/pkg/payout"
	"github.com/citypulse/earnings-service/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalConfig holds the withdrawal limits. Amounts are centavos.
type WithdrawalConfig struct {
	MinAmount  int64
	MaxAmount  int64
	DailyLimit int64
	FeePercent decimal.Decimal
	// Location defines the calendar day the daily limit covers.
	Location *time.Location
}

// DefaultWithdrawalConfig returns the production limits.
func DefaultWithdrawalConfig() WithdrawalConfig {
	return WithdrawalConfig{
		MinAmount:  5000,
		MaxAmount:  500000,
		DailyLimit: 500000,
		FeePercent: decimal.Zero,
		Location:   time.UTC,
	}
}

// WithdrawalFee is floor(amount * percent / 100).
func WithdrawalFee(amount int64, percent decimal.Decimal) int64 {
	if percent.IsZero() || amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percent).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// WithdrawalService handles cash-out requests and their payout.
type WithdrawalService struct {
	store     store.Store
	ledger    *Ledger
	payer     payout.Payer
	crypter   Crypter
	limiter   WithdrawalLimiter
	publisher rabbitmq.Publisher
	queue     string
	notifier  Notifier
	cfg       WithdrawalConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewWithdrawalService creates a withdrawal service. limiter may be nil.
func NewWithdrawalService(
	s store.Store,
	ledger *Ledger,
	payer payout.Payer,
	crypter Crypter,
	limiter WithdrawalLimiter,
	publisher rabbitmq.Publisher,
	queue string,
	notifier Notifier,
	cfg WithdrawalConfig,
	logger *slog.Logger,
) *WithdrawalService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &WithdrawalService{
		store:     s,
		ledger:    ledger,
		payer:     payer,
		crypter:   crypter,
		limiter:   limiter,
		publisher: publisher,
		queue:     queue,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With("component", "withdrawal"),
		now:       time.Now,
	}
}

func (s *WithdrawalService) startOfDay(t time.Time) time.Time {
	local := t.In(s.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
}

// RequestWithdrawal validates a cash-out, reserves the amount and enqueues
// the payout. Rejections have no side effects.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, userID uuid.UUID, req domain.WithdrawalRequest) (*domain.Withdrawal, error) {
	if req.Amount < s.cfg.MinAmount {
		return nil, domain.ErrBelowMinWithdrawal.WithMessage("minimum withdrawal is ₱%s", payout.PesoAmount(s.cfg.MinAmount))
	}
	if s.cfg.MaxAmount > 0 && req.Amount > s.cfg.MaxAmount {
		return nil, domain.ErrAboveMaxWithdrawal.WithMessage("maximum withdrawal is ₱%s", payout.PesoAmount(s.cfg.MaxAmount))
	}

	if s.limiter != nil {
		decision, err := s.limiter.AllowWithdrawal(ctx, userID)
		if err != nil {
			s.logger.Warn("rate limiter unavailable; allowing request", "user_id", userID, "error", err)
		} else if !decision.Allowed {
			return nil, domain.ErrRateLimited.WithMessage("too many withdrawal requests, retry in %d seconds", decision.RetryAfterSeconds())
		}
	}

	method, err := s.store.FindPayoutMethod(ctx, req.PayoutMethodID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrInvalidPayoutMethod
		}
		return nil, fmt.Errorf("find payout method: %w", err)
	}

	fee := WithdrawalFee(req.Amount, s.cfg.FeePercent)
	now := s.now()
	w := &domain.Withdrawal{
		ID:             uuid.New(),
		UserID:         userID,
		PayoutMethodID: method.ID,
		Provider:       method.Provider,
		Amount:         req.Amount,
		Fee:            fee,
		NetAmount:      req.Amount - fee,
		Status:         domain.WithdrawalPending,
		RequestedAt:    now,
		UpdatedAt:      now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		wallet, err := repo.LockWalletByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrExceedsAvailable.WithMessage("available balance is ₱0.00")
			}
			return fmt.Errorf("lock wallet: %w", err)
		}
		if available := wallet.AvailableCash(); req.Amount > available {
			return domain.ErrExceedsAvailable.WithMessage("available balance is ₱%s", payout.PesoAmount(available))
		}

		today, err := repo.SumWithdrawalsSince(ctx, userID, s.startOfDay(now))
		if err != nil {
			return fmt.Errorf("sum withdrawals: %w", err)
		}
		if today+req.Amount > s.cfg.DailyLimit {
			return domain.ErrDailyLimitExceeded.WithMessage("daily withdrawal limit is ₱%s", payout.PesoAmount(s.cfg.DailyLimit))
		}

		w.WalletID = wallet.ID
		if err := repo.CreateWithdrawal(ctx, w); err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		return s.ledger.reserve(ctx, repo, wallet, req.Amount)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", userID, "amount", w.Amount, "provider", w.Provider)
	if err := s.enqueue(ctx, w); err != nil {
		s.logger.Error("failed to enqueue withdrawal; it will be re-dispatched", "withdrawal_id", w.ID, "error", err)
	}
	return w, nil
}

func (s *WithdrawalService) enqueue(ctx context.Context, w *domain.Withdrawal) error {
	return s.publisher.Enqueue(ctx, s.queue, domain.WithdrawalJob{WithdrawalID: w.ID, UserID: w.UserID, EnqueuedAt: s.now()})
}

// ProcessWithdrawal pays out a pending withdrawal. Withdrawals in any other
// status are skipped, so redelivered jobs never pay twice. A provider
// failure fails the withdrawal and is not returned: the payout is never
// retried automatically. Lookup errors before the claim leave the withdrawal
// pending and are returned for the queue to retry.
func (s *WithdrawalService) ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID) error {
	w, err := s.store.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrNotFound.WithMessage("withdrawal %s not found", withdrawalID)
		}
		return fmt.Errorf("find withdrawal: %w", err)
	}
	log := s.logger.With("withdrawal_id", w.ID, "user_id", w.UserID)

	if w.Status != domain.WithdrawalPending {
		log.Info("withdrawal not pending; skipping", "status", w.Status)
		return nil
	}

	method, err := s.store.FindPayoutMethod(ctx, w.PayoutMethodID, w.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("find payout method: %w", err)
		}
		method = nil
	}

	processedAt := s.now()
	claimed, err := s.store.TransitionWithdrawal(ctx, w.ID, domain.WithdrawalPending, domain.WithdrawalProcessing, domain.WithdrawalTransition{ProcessedAt: &processedAt})
	if err != nil {
		return fmt.Errorf("claim withdrawal: %w", err)
	}
	if !claimed {
		log.Info("withdrawal claimed by another worker; skipping")
		return nil
	}
	w.Status = domain.WithdrawalProcessing
	w.ProcessedAt = &processedAt

	if method == nil {
		return s.failProcessing(ctx, w, nil, "payout method no longer exists")
	}
	account, err := s.crypter.Decrypt(method.AccountNumberEncrypted)
	if err != nil {
		return s.failProcessing(ctx, w, method, "payout destination could not be decrypted")
	}

	dest := payout.Destination{AccountNumber: account, AccountName: method.AccountName}
	if method.BankCode != nil {
		dest.BankCode = *method.BankCode
	}
	reference, err := s.payer.Payout(ctx, payout.Request{
		Provider:    string(method.Provider),
		Destination: dest,
		NetAmount:   w.NetAmount,
		Reference:   w.ID.String(),
	})
	if err != nil {
		log.Warn("payout failed", "provider", method.Provider, "error", err)
		return s.failProcessing(ctx, w, method, err.Error())
	}

	if err := s.complete(ctx, w, reference); err != nil {
		log.Error("payout succeeded but completion failed; withdrawal left in processing", "provider_reference", reference, "error", err)
		return err
	}
	log.Info("withdrawal completed", "provider_reference", reference)

	s.notify(ctx, w.UserID, "Withdrawal Complete!",
		fmt.Sprintf("₱%s has been sent to your %s", payout.PesoAmount(w.NetAmount), PayoutMethodLabel(method)),
		map[string]interface{}{"withdrawalId": w.ID.String()})
	return nil
}

func (s *WithdrawalService) complete(ctx context.Context, w *domain.Withdrawal, reference string) error {
	completedAt := s.now()
	return s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		ok, err := repo.TransitionWithdrawal(ctx, w.ID, domain.WithdrawalProcessing, domain.WithdrawalCompleted, domain.WithdrawalTransition{
			ProviderReference: &reference,
			CompletedAt:       &completedAt,
		})
		if err != nil {
			return fmt.Errorf("complete withdrawal: %w", err)
		}
		if !ok {
			return nil
		}
		_, err = s.ledger.settleWithdrawal(ctx, repo, w)
		return err
	})
}

// fail moves a withdrawal from status from to failed and releases its
// reservation in the same unit of work. It reports whether this call did it.
func (s *WithdrawalService) fail(ctx context.Context, w *domain.Withdrawal, from domain.WithdrawalStatus, reason string) (bool, error) {
	failed := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		ok, err := repo.TransitionWithdrawal(ctx, w.ID, from, domain.WithdrawalFailed, domain.WithdrawalTransition{FailureReason: &reason})
		if err != nil {
			return fmt.Errorf("fail withdrawal: %w", err)
		}
		if !ok {
			return nil
		}
		failed = true
		return s.ledger.release(ctx, repo, w.WalletID, w.Amount)
	})
	return failed, err
}

func (s *WithdrawalService) failProcessing(ctx context.Context, w *domain.Withdrawal, method *domain.PayoutMethod, reason string) error {
	failed, err := s.fail(ctx, w, domain.WithdrawalProcessing, reason)
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}
	s.logger.Warn("withdrawal failed; reservation released", "withdrawal_id", w.ID, "user_id", w.UserID, "reason", reason)

	destination := "payout method"
	if method != nil {
		destination = PayoutMethodLabel(method)
	}
	s.notify(ctx, w.UserID, "Withdrawal Failed",
		fmt.Sprintf("Your ₱%s withdrawal to %s could not be completed. The amount is back in your balance.", payout.PesoAmount(w.Amount), destination),
		map[string]interface{}{"withdrawalId": w.ID.String()})
	return nil
}

// FailPendingWithdrawal fails a withdrawal whose job exhausted its retries.
// Withdrawals already in processing are left for an operator because the
// provider may have paid.
func (s *WithdrawalService) FailPendingWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) error {
	w, err := s.store.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find withdrawal: %w", err)
	}
	if w.Status != domain.WithdrawalPending {
		if w.Status == domain.WithdrawalProcessing {
			s.logger.Error("withdrawal job exhausted while processing; needs review", "withdrawal_id", w.ID, "user_id", w.UserID, "reason", reason)
		}
		return nil
	}
	failed, err := s.fail(ctx, w, domain.WithdrawalPending, reason)
	if err == nil && failed {
		s.logger.Warn("pending withdrawal failed after retries; reservation released", "withdrawal_id", w.ID, "user_id", w.UserID, "reason", reason)
	}
	return err
}

func (s *WithdrawalService) notify(ctx context.Context, userID uuid.UUID, title, body string, data map[string]interface{}) {
	err := s.notifier.Notify(ctx, domain.Notification{UserID: userID, Title: title, Body: body, Data: data, CreatedAt: s.now()})
	if err != nil {
		s.logger.Warn("failed to send withdrawal notification", "user_id", userID, "error", err)
	}
}

// RedispatchPending re-enqueues pending withdrawals untouched for olderThan.
func (s *WithdrawalService) RedispatchPending(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.ListWithdrawalsByStatusBefore(ctx, domain.WithdrawalPending, s.now().Add(-olderThan), 100)
	if err != nil {
		return 0, fmt.Errorf("list pending withdrawals: %w", err)
	}
	dispatched := 0
	for i := range stale {
		if err := s.enqueue(ctx, &stale[i]); err != nil {
			return dispatched, fmt.Errorf("enqueue withdrawal %s: %w", stale[i].ID, err)
		}
		dispatched++
	}
	return dispatched, nil
}

// ListStuckWithdrawals returns withdrawals in processing since before cutoff.
func (s *WithdrawalService) ListStuckWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]domain.Withdrawal, error) {
	return s.store.ListWithdrawalsByStatusBefore(ctx, domain.WithdrawalProcessing, cutoff, limit)
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Withdrawal, error) {
	list, err := s.store.ListWithdrawalsByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	if list == nil {
		list = []domain.Withdrawal{}
	}
	return list, nil
}

// GetWithdrawal returns one of the user's withdrawals.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, userID, withdrawalID uuid.UUID) (*domain.Withdrawal, error) {
	w, err := s.store.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrNotFound.WithMessage("withdrawal not found")
		}
		return nil, fmt.Errorf("find withdrawal: %w", err)
	}
	if w.UserID != userID {
		return nil, domain.ErrNotFound.WithMessage("withdrawal not found")
	}
	return w, nil
}
