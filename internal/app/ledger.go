/**
 * @description
 * The ledger is the only code that changes wallet balances. Every posting
 * updates the wallet row and appends the transaction that explains it inside
 * one unit of work, with the wallet row locked so concurrent postings to the
 * same wallet serialize and balance_after snapshots stay ordered.
 *
 * Postings that carry a reference are idempotent: a replay of the same
 * (wallet, currency, type, reference) returns the original transaction and
 * leaves the wallet untouched.
 *
 * @dependencies
 * - internal/domain, internal/store: For the ledger models and the unit of work.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/google/uuid"
)

// Posting is the outcome of a credit or debit.
type Posting struct {
	Transaction *domain.Transaction
	Balance     int64
	// Replayed is true when the reference had already been posted.
	Replayed bool
}

// Ledger posts credits and debits against wallets.
type Ledger struct {
	store         store.Store
	minWithdrawal int64
	now           func() time.Time
}

// NewLedger creates a ledger. minWithdrawal only feeds the wallet read model.
func NewLedger(s store.Store, minWithdrawal int64) *Ledger {
	return &Ledger{store: s, minWithdrawal: minWithdrawal, now: time.Now}
}

// Credit adds amount to the wallet's balance in currency.
func (l *Ledger) Credit(ctx context.Context, walletID uuid.UUID, currency domain.Currency, amount int64, entry domain.LedgerEntry) (*Posting, error) {
	if amount <= 0 {
		return nil, domain.ErrValidation.WithMessage("credit amount must be positive")
	}
	var posting *Posting
	err := l.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		posting, err = l.post(ctx, repo, walletID, currency, amount, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posting, nil
}

// Debit removes amount from the wallet's credit balance. Cash never leaves a
// wallet through Debit; it leaves through withdrawal settlement.
func (l *Ledger) Debit(ctx context.Context, walletID uuid.UUID, currency domain.Currency, amount int64, entry domain.LedgerEntry) (*Posting, error) {
	if amount <= 0 {
		return nil, domain.ErrValidation.WithMessage("debit amount must be positive")
	}
	if currency != domain.CurrencyCredits {
		return nil, domain.ErrValidation.WithMessage("only credits can be debited directly")
	}
	var posting *Posting
	err := l.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		posting, err = l.post(ctx, repo, walletID, currency, -amount, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posting, nil
}

// creditUser credits the wallet of userID, creating the wallet if needed.
// repo must belong to an open unit of work. Non-positive amounts are skipped.
func (l *Ledger) creditUser(ctx context.Context, repo store.Repository, userID uuid.UUID, currency domain.Currency, amount int64, entry domain.LedgerEntry) (*Posting, error) {
	if amount <= 0 {
		return nil, nil
	}
	wallet, err := repo.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	return l.post(ctx, repo, wallet.ID, currency, amount, entry)
}

// post applies a signed amount. Positive amounts add to the lifetime earned
// totals; negative credit amounts add to credits spent.
func (l *Ledger) post(ctx context.Context, repo store.Repository, walletID uuid.UUID, currency domain.Currency, signed int64, entry domain.LedgerEntry) (*Posting, error) {
	if !currency.Valid() {
		return nil, domain.ErrValidation.WithMessage("unknown currency %q", currency)
	}

	wallet, err := repo.LockWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrNotFound.WithMessage("wallet not found")
		}
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	if entry.Reference != nil {
		existing, err := repo.FindTransactionByReference(ctx, walletID, currency, entry.Type, *entry.Reference)
		if err == nil {
			return &Posting{Transaction: existing, Balance: wallet.Balance(currency), Replayed: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find transaction by reference: %w", err)
		}
	}

	switch currency {
	case domain.CurrencyCash:
		if wallet.CashBalance+signed < wallet.PendingCash || wallet.CashBalance+signed < 0 {
			return nil, domain.ErrInsufficientBalance
		}
		wallet.CashBalance += signed
		if signed > 0 {
			wallet.TotalCashEarned += signed
		}
	case domain.CurrencyCredits:
		if wallet.CreditBalance+signed < 0 {
			return nil, domain.ErrInsufficientBalance
		}
		wallet.CreditBalance += signed
		if signed > 0 {
			wallet.TotalCreditsEarned += signed
		} else {
			wallet.TotalCreditsSpent -= signed
		}
	}

	if err := repo.UpdateWalletBalances(ctx, wallet); err != nil {
		return nil, fmt.Errorf("update wallet balances: %w", err)
	}

	tx := &domain.Transaction{
		ID:           uuid.New(),
		UserID:       wallet.UserID,
		WalletID:     wallet.ID,
		Type:         entry.Type,
		Currency:     currency,
		Amount:       signed,
		BalanceAfter: wallet.Balance(currency),
		Reference:    entry.Reference,
		Description:  entry.Description,
		Metadata:     entry.Metadata,
		CreatedAt:    l.now(),
	}
	if err := repo.InsertTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent posting of the same reference.
			// Returning the error rolls back the balance change above.
			return nil, err
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	return &Posting{Transaction: tx, Balance: wallet.Balance(currency)}, nil
}

// reserve moves amount of available cash into pendingCash.
func (l *Ledger) reserve(ctx context.Context, repo store.Repository, wallet *domain.Wallet, amount int64) error {
	if amount <= 0 {
		return domain.ErrValidation.WithMessage("reservation must be positive")
	}
	if wallet.AvailableCash() < amount {
		return domain.ErrExceedsAvailable
	}
	wallet.PendingCash += amount
	return repo.UpdateWalletBalances(ctx, wallet)
}

// release drops a withdrawal's reservation without moving cash.
func (l *Ledger) release(ctx context.Context, repo store.Repository, walletID uuid.UUID, amount int64) error {
	wallet, err := repo.LockWallet(ctx, walletID)
	if err != nil {
		return fmt.Errorf("lock wallet: %w", err)
	}
	wallet.PendingCash -= amount
	if wallet.PendingCash < 0 {
		wallet.PendingCash = 0
	}
	return repo.UpdateWalletBalances(ctx, wallet)
}

// settleWithdrawal drops the reservation and posts the cash leaving the
// wallet as one negative withdrawal transaction.
func (l *Ledger) settleWithdrawal(ctx context.Context, repo store.Repository, w *domain.Withdrawal) (*domain.Transaction, error) {
	wallet, err := repo.LockWallet(ctx, w.WalletID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	ref := &domain.Reference{Type: domain.RefWithdrawal, ID: w.ID.String()}
	if existing, err := repo.FindTransactionByReference(ctx, wallet.ID, domain.CurrencyCash, domain.TxWithdrawal, *ref); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find transaction by reference: %w", err)
	}

	wallet.PendingCash -= w.Amount
	if wallet.PendingCash < 0 {
		wallet.PendingCash = 0
	}
	if wallet.CashBalance < w.Amount {
		return nil, domain.ErrInsufficientBalance.WithMessage("wallet %s cannot cover withdrawal %s", wallet.ID, w.ID)
	}
	wallet.CashBalance -= w.Amount
	wallet.TotalCashWithdrawn += w.Amount
	if err := repo.UpdateWalletBalances(ctx, wallet); err != nil {
		return nil, fmt.Errorf("update wallet balances: %w", err)
	}

	tx := &domain.Transaction{
		ID:           uuid.New(),
		UserID:       wallet.UserID,
		WalletID:     wallet.ID,
		Type:         domain.TxWithdrawal,
		Currency:     domain.CurrencyCash,
		Amount:       -w.Amount,
		BalanceAfter: wallet.CashBalance,
		Reference:    ref,
		Description:  fmt.Sprintf("Withdrawal via %s", w.Provider),
		Metadata: map[string]interface{}{
			"fee":        w.Fee,
			"net_amount": w.NetAmount,
		},
		CreatedAt: l.now(),
	}
	if err := repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

// GetWallet returns the wallet read model, creating the wallet on first access.
func (l *Ledger) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.WalletView, error) {
	wallet, err := l.store.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	available := wallet.AvailableCash()
	return &domain.WalletView{
		Wallet:        *wallet,
		AvailableCash: available,
		CanWithdraw:   available >= l.minWithdrawal,
	}, nil
}

// ListTransactions returns the user's transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	if opts.Currency != "" && !opts.Currency.Valid() {
		return nil, domain.ErrValidation.WithMessage("unknown currency %q", opts.Currency)
	}
	wallet, err := l.store.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	txs, err := l.store.ListTransactions(ctx, wallet.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return txs, nil
}
