package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicechat/internal/models"
)

// ErrAccountNotFound represents a missing credit account row.
var ErrAccountNotFound = errors.New("credit account not found")

// InsufficientBalanceError rejects a debit that would take the balance below
// zero. It carries the unchanged balance for client display.
type InsufficientBalanceError struct {
	Balance int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d", e.Balance)
}

// CreditsRepository persists credit accounts and their append-only
// transaction log. Balance mutation and log insertion always happen inside
// one database transaction so the balance stays equal to the sum of the log.
type CreditsRepository struct {
	db *sql.DB
}

// NewCreditsRepository returns repository instance.
func NewCreditsRepository(db *sql.DB) *CreditsRepository {
	return &CreditsRepository{db: db}
}

// GetOrCreateAccount returns the account for userID, creating an empty one on
// first access. Creation is idempotent: the unique constraint on user_id
// makes concurrent first reads converge on a single row.
func (r *CreditsRepository) GetOrCreateAccount(ctx context.Context, userID int64) (*models.CreditAccount, error) {
	const insert = `
		INSERT INTO user_credits (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, userID); err != nil {
		return nil, err
	}
	return r.GetAccount(ctx, userID)
}

// GetAccount fetches the account for userID without creating it.
func (r *CreditsRepository) GetAccount(ctx context.Context, userID int64) (*models.CreditAccount, error) {
	const query = `
		SELECT id, user_id, balance, created_at, updated_at
		FROM user_credits
		WHERE user_id = $1
	`
	var acc models.CreditAccount
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&acc.ID, &acc.UserID, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// RecentTransactions returns the latest ledger entries for an account,
// newest first.
func (r *CreditsRepository) RecentTransactions(ctx context.Context, accountID int64, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT id, account_id, amount, type, description, created_at
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.CreditTransaction{}
	for rows.Next() {
		var tx models.CreditTransaction
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Type, &tx.Description, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// Credit increments the balance by amount (> 0, validated by the caller) and
// appends a PURCHASE entry. The account is created when absent.
func (r *CreditsRepository) Credit(ctx context.Context, userID, amount int64, description string) (int64, *models.CreditTransaction, error) {
	acc, err := r.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer dbTx.Rollback()

	const update = `
		UPDATE user_credits
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`
	var newBalance int64
	if err := dbTx.QueryRowContext(ctx, update, acc.ID, amount).Scan(&newBalance); err != nil {
		return 0, nil, err
	}

	entry, err := insertTransaction(ctx, dbTx, acc.ID, amount, models.TransactionTypePurchase, description)
	if err != nil {
		return 0, nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return 0, nil, err
	}
	return newBalance, entry, nil
}

// Debit decrements the balance by amount (> 0, validated by the caller) and
// appends a USAGE entry with the negated amount. The decrement is conditional
// on sufficient balance, so two concurrent debits can never drive the balance
// negative: the losing one matches zero rows and fails with
// InsufficientBalanceError.
func (r *CreditsRepository) Debit(ctx context.Context, userID, amount int64, description string) (int64, *models.CreditTransaction, error) {
	acc, err := r.GetAccount(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer dbTx.Rollback()

	const update = `
		UPDATE user_credits
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`
	var newBalance int64
	err = dbTx.QueryRowContext(ctx, update, acc.ID, amount).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		current, balErr := r.GetAccount(ctx, userID)
		if balErr != nil {
			return 0, nil, balErr
		}
		return 0, nil, &InsufficientBalanceError{Balance: current.Balance}
	}
	if err != nil {
		return 0, nil, err
	}

	entry, err := insertTransaction(ctx, dbTx, acc.ID, -amount, models.TransactionTypeUsage, description)
	if err != nil {
		return 0, nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return 0, nil, err
	}
	return newBalance, entry, nil
}

func insertTransaction(ctx context.Context, dbTx *sql.Tx, accountID, amount int64, txType, description string) (*models.CreditTransaction, error) {
	const query = `
		INSERT INTO credit_transactions (account_id, amount, type, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	entry := &models.CreditTransaction{
		AccountID:   accountID,
		Amount:      amount,
		Type:        txType,
		Description: description,
	}
	if err := dbTx.QueryRowContext(ctx, query, accountID, amount, txType, description).
		Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return nil, err
	}
	return entry, nil
}
