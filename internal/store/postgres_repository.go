/**
 * @description
 * This file provides the PostgreSQL implementation of the `Store` interface.
 * PostgresStore owns the connection pool and opens units of work; every
 * PostgresRepository method runs against either the pool or the pgx.Tx of
 * the unit of work it was handed out by.
 *
 * @notes
 * - Wallet rows are serialized with SELECT ... FOR UPDATE inside the unit of work.
 * - Serialization failures and deadlocks roll back and rerun the whole unit.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const maxTxAttempts = 3

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the production Store.
type PostgresStore struct {
	*PostgresRepository
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{PostgresRepository: &PostgresRepository{db: pool}, pool: pool}
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in a read-committed transaction, retrying on
// serialization failures and deadlocks.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresRepository{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db dbtx
}

const walletColumns = `
	id, user_id, cash_balance, credit_balance, pending_cash,
	total_cash_earned, total_credits_earned, total_cash_withdrawn, total_credits_spent,
	created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID, &w.UserID, &w.CashBalance, &w.CreditBalance, &w.PendingCash,
		&w.TotalCashEarned, &w.TotalCreditsEarned, &w.TotalCashWithdrawn, &w.TotalCreditsSpent,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// EnsureWallet returns the user's wallet, creating an empty one on first use.
func (r *PostgresRepository) EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	return r.FindWalletByUserID(ctx, userID)
}

func (r *PostgresRepository) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

// LockWallet uses FOR UPDATE to lock the row, preventing lost updates.
func (r *PostgresRepository) LockWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID))
}

func (r *PostgresRepository) LockWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

func (r *PostgresRepository) UpdateWalletBalances(ctx context.Context, w *domain.Wallet) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE wallets
		SET cash_balance = $2,
		    credit_balance = $3,
		    pending_cash = $4,
		    total_cash_earned = $5,
		    total_credits_earned = $6,
		    total_cash_withdrawn = $7,
		    total_credits_spent = $8,
		    updated_at = NOW()
		WHERE id = $1
	`, w.ID, w.CashBalance, w.CreditBalance, w.PendingCash,
		w.TotalCashEarned, w.TotalCreditsEarned, w.TotalCashWithdrawn, w.TotalCreditsSpent)
	if err != nil {
		return fmt.Errorf("failed to update wallet balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	var refType, refID *string
	if t.Reference != nil {
		refType, refID = &t.Reference.Type, &t.Reference.ID
	}
	var metadata []byte
	if len(t.Metadata) > 0 {
		encoded, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal transaction metadata: %w", err)
		}
		metadata = encoded
	}
	// A duplicate reference must not abort the enclosing transaction.
	tag, err := r.db.Exec(ctx, `
		INSERT INTO transactions (
			id, user_id, wallet_id, type, currency, amount, balance_after,
			reference_type, reference_id, description, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
	`, t.ID, t.UserID, t.WalletID, t.Type, t.Currency, t.Amount, t.BalanceAfter,
		refType, refID, t.Description, metadata, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

const transactionColumns = `
	id, user_id, wallet_id, type, currency, amount, balance_after,
	reference_type, reference_id, description, metadata, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t              domain.Transaction
		refType, refID *string
		metadata       []byte
	)
	err := row.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Type, &t.Currency, &t.Amount, &t.BalanceAfter,
		&refType, &refID, &t.Description, &metadata, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if refType != nil && refID != nil {
		t.Reference = &domain.Reference{Type: *refType, ID: *refID}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
	}
	return &t, nil
}

func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, walletID uuid.UUID, currency domain.Currency, txType domain.TransactionType, ref domain.Reference) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE wallet_id = $1 AND currency = $2 AND type = $3
		  AND reference_type = $4 AND reference_id = $5
	`, walletID, currency, txType, ref.Type, ref.ID))
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	var currency, txType *string
	if opts.Currency != "" {
		c := string(opts.Currency)
		currency = &c
	}
	if opts.Type != "" {
		t := string(opts.Type)
		txType = &t
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE wallet_id = $1
		  AND ($2::text IS NULL OR currency = $2)
		  AND ($3::text IS NULL OR type = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, walletID, currency, txType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SumTransactions(ctx context.Context, walletID uuid.UUID, currency domain.Currency) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::bigint FROM transactions WHERE wallet_id = $1 AND currency = $2
	`, walletID, currency).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}
