package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutProvider is the external rail a withdrawal is paid out through.
type PayoutProvider string

const (
	ProviderGCash        PayoutProvider = "gcash"
	ProviderGrabPay      PayoutProvider = "grabpay"
	ProviderBankTransfer PayoutProvider = "bank_transfer"
)

func (p PayoutProvider) Valid() bool {
	switch p {
	case ProviderGCash, ProviderGrabPay, ProviderBankTransfer:
		return true
	}
	return false
}

// PayoutMethod is a user's saved payout destination. AccountNumberEncrypted
// never leaves the service.
type PayoutMethod struct {
	ID                     uuid.UUID      `json:"id"`
	UserID                 uuid.UUID      `json:"user_id"`
	Provider               PayoutProvider `json:"provider"`
	AccountName            string         `json:"account_name"`
	AccountNumberEncrypted string         `json:"-"`
	DisplayNumber          string         `json:"display_number"`
	BankCode               *string        `json:"bank_code,omitempty"`
	IsDefault              bool           `json:"is_default"`
	IsActive               bool           `json:"is_active"`
	CreatedAt              time.Time      `json:"created_at"`
}

// WithdrawalStatus tracks a withdrawal through payout.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// Reserving reports whether a withdrawal in this status holds pendingCash.
func (s WithdrawalStatus) Reserving() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}

// Withdrawal is a cash-out request.
type Withdrawal struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"user_id"`
	WalletID          uuid.UUID        `json:"wallet_id"`
	PayoutMethodID    uuid.UUID        `json:"payout_method_id"`
	Provider          PayoutProvider   `json:"provider"`
	Amount            int64            `json:"amount"`
	Fee               int64            `json:"fee"`
	NetAmount         int64            `json:"net_amount"`
	Status            WithdrawalStatus `json:"status"`
	ProviderReference *string          `json:"provider_reference,omitempty"`
	FailureReason     *string          `json:"failure_reason,omitempty"`
	RequestedAt       time.Time        `json:"requested_at"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// WithdrawalTransition carries the fields written alongside a status change.
type WithdrawalTransition struct {
	ProviderReference *string
	FailureReason     *string
	ProcessedAt       *time.Time
	CompletedAt       *time.Time
}

// AddPayoutMethodRequest is the input for registering a payout destination.
type AddPayoutMethodRequest struct {
	Provider      PayoutProvider `json:"provider"`
	AccountNumber string         `json:"account_number"`
	AccountName   string         `json:"account_name"`
	BankCode      *string        `json:"bank_code,omitempty"`
	MakeDefault   bool           `json:"make_default"`
}

// WithdrawalRequest is the input for a cash-out.
type WithdrawalRequest struct {
	Amount         int64     `json:"amount"`
	PayoutMethodID uuid.UUID `json:"payout_method_id"`
}
