package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const payoutMethodColumns = `
	id, user_id, provider, account_name, account_number_encrypted, display_number,
	bank_code, is_default, is_active, created_at`

func scanPayoutMethod(row pgx.Row) (*domain.PayoutMethod, error) {
	var m domain.PayoutMethod
	err := row.Scan(&m.ID, &m.UserID, &m.Provider, &m.AccountName, &m.AccountNumberEncrypted, &m.DisplayNumber,
		&m.BankCode, &m.IsDefault, &m.IsActive, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) CreatePayoutMethod(ctx context.Context, m *domain.PayoutMethod) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payout_methods (
			id, user_id, provider, account_name, account_number_encrypted, display_number,
			bank_code, is_default, is_active, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.UserID, m.Provider, m.AccountName, m.AccountNumberEncrypted, m.DisplayNumber,
		m.BankCode, m.IsDefault, m.IsActive, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payout method: %w", err)
	}
	return nil
}

// FindPayoutMethod only returns active methods owned by userID.
func (r *PostgresRepository) FindPayoutMethod(ctx context.Context, methodID, userID uuid.UUID) (*domain.PayoutMethod, error) {
	return scanPayoutMethod(r.db.QueryRow(ctx, `
		SELECT `+payoutMethodColumns+`
		FROM payout_methods
		WHERE id = $1 AND user_id = $2 AND is_active
	`, methodID, userID))
}

func (r *PostgresRepository) ListPayoutMethods(ctx context.Context, userID uuid.UUID) ([]domain.PayoutMethod, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+payoutMethodColumns+`
		FROM payout_methods
		WHERE user_id = $1 AND is_active
		ORDER BY is_default DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout methods: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutMethod
	for rows.Next() {
		m, err := scanPayoutMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetDefaultPayoutMethod(ctx context.Context, methodID, userID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `UPDATE payout_methods SET is_default = FALSE WHERE user_id = $1 AND id <> $2`, userID, methodID); err != nil {
		return fmt.Errorf("failed to clear default payout method: %w", err)
	}
	tag, err := r.db.Exec(ctx, `UPDATE payout_methods SET is_default = TRUE WHERE id = $1 AND user_id = $2 AND is_active`, methodID, userID)
	if err != nil {
		return fmt.Errorf("failed to set default payout method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeactivatePayoutMethod(ctx context.Context, methodID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payout_methods SET is_active = FALSE, is_default = FALSE WHERE id = $1 AND user_id = $2 AND is_active
	`, methodID, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate payout method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CountReservingWithdrawalsForMethod(ctx context.Context, methodID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM withdrawals WHERE payout_method_id = $1 AND status IN ('pending', 'processing')
	`, methodID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count withdrawals for payout method: %w", err)
	}
	return count, nil
}

const withdrawalColumns = `
	id, user_id, wallet_id, payout_method_id, provider, amount, fee, net_amount, status,
	provider_reference, failure_reason, requested_at, processed_at, completed_at, updated_at`

func scanWithdrawal(row pgx.Row) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := row.Scan(&w.ID, &w.UserID, &w.WalletID, &w.PayoutMethodID, &w.Provider, &w.Amount, &w.Fee, &w.NetAmount, &w.Status,
		&w.ProviderReference, &w.FailureReason, &w.RequestedAt, &w.ProcessedAt, &w.CompletedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO withdrawals (
			id, user_id, wallet_id, payout_method_id, provider, amount, fee, net_amount, status,
			requested_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, w.ID, w.UserID, w.WalletID, w.PayoutMethodID, w.Provider, w.Amount, w.Fee, w.NetAmount, w.Status, w.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.Withdrawal, error) {
	return scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, withdrawalID))
}

func (r *PostgresRepository) ListWithdrawalsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}

func collectWithdrawals(rows pgx.Rows) ([]domain.Withdrawal, error) {
	var out []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SumWithdrawalsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::bigint
		FROM withdrawals
		WHERE user_id = $1 AND requested_at >= $2 AND status <> 'failed'
	`, userID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	return total, nil
}

// TransitionWithdrawal is a compare-and-swap on status. Only the first caller
// observing `from` gets true.
func (r *PostgresRepository) TransitionWithdrawal(ctx context.Context, withdrawalID uuid.UUID, from, to domain.WithdrawalStatus, t domain.WithdrawalTransition) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE withdrawals
		SET status = $3,
		    provider_reference = COALESCE($4, provider_reference),
		    failure_reason = COALESCE($5, failure_reason),
		    processed_at = COALESCE($6, processed_at),
		    completed_at = COALESCE($7, completed_at),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, withdrawalID, from, to, t.ProviderReference, t.FailureReason, t.ProcessedAt, t.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ListWithdrawalsByStatusBefore(ctx context.Context, status domain.WithdrawalStatus, before time.Time, limit int) ([]domain.Withdrawal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals by status: %w", err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}
