/**
 * @description
 * Ledger models: the per-user Wallet and the immutable Transaction rows that
 * explain every movement of its balances.
 *
 * @notes
 * - Cash amounts are int64 minor units (centavos). Credits are integer units.
 * - A Transaction amount is signed; BalanceAfter is the balance of the same
 *   wallet and currency immediately after the row was appended.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Currency identifies which wallet balance a ledger entry moves.
type Currency string

const (
	CurrencyCash    Currency = "cash"
	CurrencyCredits Currency = "credits"
)

func (c Currency) Valid() bool {
	return c == CurrencyCash || c == CurrencyCredits
}

// TransactionType is the economic event a ledger entry records.
type TransactionType string

const (
	TxSessionEarning    TransactionType = "session_earning"
	TxAchievementReward TransactionType = "achievement_reward"
	TxChallengeReward   TransactionType = "challenge_reward"
	TxLevelUpBonus      TransactionType = "level_up_bonus"
	TxStreakBonus       TransactionType = "streak_bonus"
	TxWithdrawal        TransactionType = "withdrawal"
	TxRefund            TransactionType = "refund"
)

// Reference types used to tag idempotent ledger entries.
const (
	RefSession     = "session"
	RefAchievement = "achievement"
	RefChallenge   = "challenge"
	RefLevel       = "level"
	RefStreak      = "streak"
	RefWithdrawal  = "withdrawal"
)

// Reference points a ledger entry at the business object that caused it.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Wallet holds one user's balances. It is only mutated through the ledger.
type Wallet struct {
	ID                 uuid.UUID `json:"id"`
	UserID             uuid.UUID `json:"user_id"`
	CashBalance        int64     `json:"cash_balance"`
	CreditBalance      int64     `json:"credit_balance"`
	PendingCash        int64     `json:"pending_cash"`
	TotalCashEarned    int64     `json:"total_cash_earned"`
	TotalCreditsEarned int64     `json:"total_credits_earned"`
	TotalCashWithdrawn int64     `json:"total_cash_withdrawn"`
	TotalCreditsSpent  int64     `json:"total_credits_spent"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AvailableCash is the cash that is not reserved by in-flight withdrawals.
func (w *Wallet) AvailableCash() int64 {
	return w.CashBalance - w.PendingCash
}

// Balance returns the balance for the given currency.
func (w *Wallet) Balance(currency Currency) int64 {
	if currency == CurrencyCredits {
		return w.CreditBalance
	}
	return w.CashBalance
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID           uuid.UUID              `json:"id"`
	UserID       uuid.UUID              `json:"user_id"`
	WalletID     uuid.UUID              `json:"wallet_id"`
	Type         TransactionType        `json:"type"`
	Currency     Currency               `json:"currency"`
	Amount       int64                  `json:"amount"`
	BalanceAfter int64                  `json:"balance_after"`
	Reference    *Reference             `json:"reference,omitempty"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// LedgerEntry describes a credit or debit before it is applied.
type LedgerEntry struct {
	Type        TransactionType
	Reference   *Reference
	Description string
	Metadata    map[string]interface{}
}

// TransactionListOptions filters a wallet's transaction history.
type TransactionListOptions struct {
	Currency Currency
	Type     TransactionType
	Limit    int
	Offset   int
}

// WalletView is the read model returned to clients.
type WalletView struct {
	Wallet
	AvailableCash int64 `json:"available_cash"`
	CanWithdraw   bool  `json:"can_withdraw"`
}
