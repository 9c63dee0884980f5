package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/internal/store"
	"github.com/google/uuid"
)

// Crypter encrypts payout credentials at rest.
type Crypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

var (
	phMobilePattern   = regexp.MustCompile(`^(09\d{9}|\+639\d{9})$`)
	bankAccountPattern = regexp.MustCompile(`^\d{10,16}$`)
	accountSeparators = strings.NewReplacer(" ", "", "-", "")
)

var providerNames = map[domain.PayoutProvider]string{
	domain.ProviderGCash:        "GCash",
	domain.ProviderGrabPay:      "GrabPay",
	domain.ProviderBankTransfer: "Bank",
}

// MaskAccountNumber keeps the last four digits.
func MaskAccountNumber(number string) string {
	if len(number) <= 4 {
		return "•••• " + number
	}
	return "•••• " + number[len(number)-4:]
}

// PayoutMethodLabel is how a method is named in user-facing messages.
func PayoutMethodLabel(m *domain.PayoutMethod) string {
	name, ok := providerNames[m.Provider]
	if !ok {
		name = string(m.Provider)
	}
	return name + " " + m.DisplayNumber
}

// PayoutMethodService manages users' payout destinations.
type PayoutMethodService struct {
	store   store.Store
	crypter Crypter
	logger  *slog.Logger
	now     func() time.Time
}

func NewPayoutMethodService(s store.Store, crypter Crypter, logger *slog.Logger) *PayoutMethodService {
	return &PayoutMethodService{
		store:   s,
		crypter: crypter,
		logger:  logger.With("component", "payout_methods"),
		now:     time.Now,
	}
}

func normalizeAccountNumber(req domain.AddPayoutMethodRequest) (string, error) {
	number := accountSeparators.Replace(strings.TrimSpace(req.AccountNumber))
	switch req.Provider {
	case domain.ProviderGCash, domain.ProviderGrabPay:
		if !phMobilePattern.MatchString(number) {
			return "", domain.ErrValidation.WithMessage("invalid Philippine mobile number")
		}
	case domain.ProviderBankTransfer:
		if req.BankCode == nil || strings.TrimSpace(*req.BankCode) == "" {
			return "", domain.ErrValidation.WithMessage("bank code is required for bank transfers")
		}
		if !bankAccountPattern.MatchString(number) {
			return "", domain.ErrValidation.WithMessage("bank account number must be 10 to 16 digits")
		}
	default:
		return "", domain.ErrValidation.WithMessage("unsupported payout provider %q", req.Provider)
	}
	return number, nil
}

// AddPayoutMethod validates and stores a payout destination. The first
// method a user adds becomes the default.
func (s *PayoutMethodService) AddPayoutMethod(ctx context.Context, userID uuid.UUID, req domain.AddPayoutMethodRequest) (*domain.PayoutMethod, error) {
	number, err := normalizeAccountNumber(req)
	if err != nil {
		return nil, err
	}
	accountName := strings.TrimSpace(req.AccountName)
	if accountName == "" {
		return nil, domain.ErrValidation.WithMessage("account name is required")
	}

	existing, err := s.store.ListPayoutMethods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list payout methods: %w", err)
	}
	for _, m := range existing {
		if m.Provider != req.Provider {
			continue
		}
		plain, err := s.crypter.Decrypt(m.AccountNumberEncrypted)
		if err != nil {
			s.logger.Warn("failed to decrypt stored payout method", "method_id", m.ID, "error", err)
			continue
		}
		if plain == number {
			return nil, domain.ErrAlreadyExists.WithMessage("this payout method already exists")
		}
	}

	encrypted, err := s.crypter.Encrypt(number)
	if err != nil {
		return nil, domain.ErrInternal.Wrap(err)
	}

	method := &domain.PayoutMethod{
		ID:                     uuid.New(),
		UserID:                 userID,
		Provider:               req.Provider,
		AccountName:            accountName,
		AccountNumberEncrypted: encrypted,
		DisplayNumber:          MaskAccountNumber(number),
		IsActive:               true,
		CreatedAt:              s.now(),
	}
	if req.Provider == domain.ProviderBankTransfer {
		code := strings.TrimSpace(*req.BankCode)
		method.BankCode = &code
	}

	makeDefault := req.MakeDefault || len(existing) == 0
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if err := repo.CreatePayoutMethod(ctx, method); err != nil {
			return fmt.Errorf("create payout method: %w", err)
		}
		if makeDefault {
			return repo.SetDefaultPayoutMethod(ctx, method.ID, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	method.IsDefault = makeDefault
	s.logger.Info("payout method added", "user_id", userID, "method_id", method.ID, "provider", method.Provider)
	return method, nil
}

// ListPayoutMethods returns the user's active methods, default first.
func (s *PayoutMethodService) ListPayoutMethods(ctx context.Context, userID uuid.UUID) ([]domain.PayoutMethod, error) {
	methods, err := s.store.ListPayoutMethods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list payout methods: %w", err)
	}
	if methods == nil {
		methods = []domain.PayoutMethod{}
	}
	return methods, nil
}

func (s *PayoutMethodService) SetDefaultPayoutMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	if err := s.store.SetDefaultPayoutMethod(ctx, methodID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrNotFound.WithMessage("payout method not found")
		}
		return fmt.Errorf("set default payout method: %w", err)
	}
	return nil
}

// RemovePayoutMethod deactivates a method unless a withdrawal still uses it.
func (s *PayoutMethodService) RemovePayoutMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if _, err := repo.FindPayoutMethod(ctx, methodID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrNotFound.WithMessage("payout method not found")
			}
			return fmt.Errorf("find payout method: %w", err)
		}
		inFlight, err := repo.CountReservingWithdrawalsForMethod(ctx, methodID)
		if err != nil {
			return fmt.Errorf("count withdrawals: %w", err)
		}
		if inFlight > 0 {
			return domain.ErrPayoutMethodInUse
		}
		return repo.DeactivatePayoutMethod(ctx, methodID, userID)
	})
}
