package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"voicechat/internal/models"
)

// ErrInvalidAmount rejects credit or debit requests whose amount is not a
// positive integer.
var ErrInvalidAmount = errors.New("credits: amount must be a positive integer")

const (
	recentTransactionLimit = 10

	defaultCreditDescription = "Credit top-up"
	defaultDebitDescription  = "Credit usage"
)

// CreditsRepo defines the ledger storage contract. Both mutations are atomic:
// the balance change and the log entry land in one database transaction, and
// Debit fails with *repository.InsufficientBalanceError instead of ever
// producing a negative balance.
type CreditsRepo interface {
	GetOrCreateAccount(ctx context.Context, userID int64) (*models.CreditAccount, error)
	RecentTransactions(ctx context.Context, accountID int64, limit int) ([]models.CreditTransaction, error)
	Credit(ctx context.Context, userID, amount int64, description string) (int64, *models.CreditTransaction, error)
	Debit(ctx context.Context, userID, amount int64, description string) (int64, *models.CreditTransaction, error)
}

// Statement is a balance snapshot with the most recent ledger entries.
type Statement struct {
	Balance            int64                      `json:"balance"`
	RecentTransactions []models.CreditTransaction `json:"recentTransactions"`
}

// LedgerUpdate is the result of one credit or debit.
type LedgerUpdate struct {
	Balance     int64                     `json:"balance"`
	Transaction *models.CreditTransaction `json:"transaction"`
}

// CreditsService maintains per-user usage credit balances.
type CreditsService struct {
	repo   CreditsRepo
	logger *zap.Logger
}

// NewCreditsService builds CreditsService.
func NewCreditsService(repo CreditsRepo, logger *zap.Logger) *CreditsService {
	return &CreditsService{repo: repo, logger: logger}
}

// GetBalance returns the user's balance and up to ten most recent
// transactions, creating an empty account on first access.
func (s *CreditsService) GetBalance(ctx context.Context, userID int64) (*Statement, error) {
	acc, err := s.repo.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.RecentTransactions(ctx, acc.ID, recentTransactionLimit)
	if err != nil {
		return nil, err
	}
	return &Statement{Balance: acc.Balance, RecentTransactions: txs}, nil
}

// Credit adds amount to the user's balance and records a PURCHASE entry.
func (s *CreditsService) Credit(ctx context.Context, userID, amount int64, description string) (*LedgerUpdate, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		description = defaultCreditDescription
	}

	balance, tx, err := s.repo.Credit(ctx, userID, amount, description)
	if err != nil {
		return nil, err
	}

	s.logger.Info("credits purchased",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance),
	)
	return &LedgerUpdate{Balance: balance, Transaction: tx}, nil
}

// Debit subtracts amount from the user's balance and records a USAGE entry
// with the negated amount.
func (s *CreditsService) Debit(ctx context.Context, userID, amount int64, description string) (*LedgerUpdate, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		description = defaultDebitDescription
	}

	balance, tx, err := s.repo.Debit(ctx, userID, amount, description)
	if err != nil {
		return nil, err
	}

	s.logger.Info("credits used",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance),
	)
	return &LedgerUpdate{Balance: balance, Transaction: tx}, nil
}
