package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"voicechat/internal/models"
	"voicechat/internal/repository"
)

// fakeLedgerRepo mimics the database-backed ledger: balance mutation and log
// append are atomic under one mutex, and debits are conditional.
type fakeLedgerRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*models.CreditAccount
	log      map[int64][]models.CreditTransaction
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		accounts: make(map[int64]*models.CreditAccount),
		log:      make(map[int64][]models.CreditTransaction),
	}
}

func (f *fakeLedgerRepo) GetOrCreateAccount(_ context.Context, userID int64) (*models.CreditAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOrCreateLocked(userID), nil
}

func (f *fakeLedgerRepo) getOrCreateLocked(userID int64) *models.CreditAccount {
	if acc, ok := f.accounts[userID]; ok {
		return acc
	}
	f.nextID++
	acc := &models.CreditAccount{ID: f.nextID, UserID: userID, CreatedAt: time.Now()}
	f.accounts[userID] = acc
	return acc
}

func (f *fakeLedgerRepo) RecentTransactions(_ context.Context, accountID int64, limit int) ([]models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.log[accountID]
	out := []models.CreditTransaction{}
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (f *fakeLedgerRepo) Credit(_ context.Context, userID, amount int64, description string) (int64, *models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := f.getOrCreateLocked(userID)
	acc.Balance += amount
	entry := f.appendLocked(acc.ID, amount, models.TransactionTypePurchase, description)
	return acc.Balance, entry, nil
}

func (f *fakeLedgerRepo) Debit(_ context.Context, userID, amount int64, description string) (int64, *models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[userID]
	if !ok {
		return 0, nil, repository.ErrAccountNotFound
	}
	if acc.Balance < amount {
		return 0, nil, &repository.InsufficientBalanceError{Balance: acc.Balance}
	}
	acc.Balance -= amount
	entry := f.appendLocked(acc.ID, -amount, models.TransactionTypeUsage, description)
	return acc.Balance, entry, nil
}

func (f *fakeLedgerRepo) appendLocked(accountID, amount int64, txType, description string) *models.CreditTransaction {
	f.nextID++
	entry := models.CreditTransaction{
		ID:          f.nextID,
		AccountID:   accountID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now(),
	}
	f.log[accountID] = append(f.log[accountID], entry)
	return &entry
}

func (f *fakeLedgerRepo) sumTransactions(accountID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, entry := range f.log[accountID] {
		sum += entry.Amount
	}
	return sum
}

func (f *fakeLedgerRepo) balance(userID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[userID].Balance
}

func newCreditsService(repo CreditsRepo) *CreditsService {
	return NewCreditsService(repo, zap.NewNop())
}

func TestGetBalanceCreatesEmptyAccountOnce(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newCreditsService(repo)

	stmt, err := svc.GetBalance(context.Background(), 7)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if stmt.Balance != 0 {
		t.Fatalf("expected zero balance, got %d", stmt.Balance)
	}
	if len(stmt.RecentTransactions) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(stmt.RecentTransactions))
	}

	if _, err := svc.GetBalance(context.Background(), 7); err != nil {
		t.Fatalf("second get balance: %v", err)
	}
	if len(repo.accounts) != 1 {
		t.Fatalf("expected a single account, got %d", len(repo.accounts))
	}
}

func TestCreditRejectsNonPositiveAmounts(t *testing.T) {
	svc := newCreditsService(newFakeLedgerRepo())

	for _, amount := range []int64{0, -1, -100} {
		if _, err := svc.Credit(context.Background(), 1, amount, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestCreditIncreasesBalanceAndAppendsPurchase(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newCreditsService(repo)

	update, err := svc.Credit(context.Background(), 1, 25, "starter pack")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if update.Balance != 25 {
		t.Fatalf("expected balance 25, got %d", update.Balance)
	}
	if update.Transaction.Type != models.TransactionTypePurchase {
		t.Fatalf("expected PURCHASE entry, got %s", update.Transaction.Type)
	}
	if update.Transaction.Amount != 25 {
		t.Fatalf("expected entry amount 25, got %d", update.Transaction.Amount)
	}
	if update.Transaction.Description != "starter pack" {
		t.Fatalf("unexpected description %q", update.Transaction.Description)
	}
}

func TestCreditDefaultsDescription(t *testing.T) {
	svc := newCreditsService(newFakeLedgerRepo())

	update, err := svc.Credit(context.Background(), 1, 5, "  ")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if update.Transaction.Description == "" {
		t.Fatal("expected a default description")
	}
}

func TestDebitDecreasesBalanceAndAppendsNegatedUsage(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newCreditsService(repo)

	if _, err := svc.Credit(context.Background(), 1, 10, ""); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	update, err := svc.Debit(context.Background(), 1, 4, "voice chat")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if update.Balance != 6 {
		t.Fatalf("expected balance 6, got %d", update.Balance)
	}
	if update.Transaction.Type != models.TransactionTypeUsage {
		t.Fatalf("expected USAGE entry, got %s", update.Transaction.Type)
	}
	if update.Transaction.Amount != -4 {
		t.Fatalf("expected entry amount -4, got %d", update.Transaction.Amount)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	svc := newCreditsService(newFakeLedgerRepo())

	if _, err := svc.Debit(context.Background(), 99, 1, ""); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDebitInsufficientLeavesBalanceUnchanged(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newCreditsService(repo)

	if _, err := svc.Credit(context.Background(), 1, 3, ""); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	_, err := svc.Debit(context.Background(), 1, 5, "")
	var insufficient *repository.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Balance != 3 {
		t.Fatalf("expected reported balance 3, got %d", insufficient.Balance)
	}
	if repo.balance(1) != 3 {
		t.Fatalf("expected balance untouched at 3, got %d", repo.balance(1))
	}
}

func TestBalanceEqualsSumOfTransactions(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newCreditsService(repo)
	ctx := context.Background()

	ops := []struct {
		credit bool
		amount int64
	}{
		{true, 10}, {true, 7}, {false, 5}, {true, 3}, {false, 9}, {false, 6},
	}
	for _, op := range ops {
		if op.credit {
			if _, err := svc.Credit(ctx, 1, op.amount, ""); err != nil {
				t.Fatalf("credit %d: %v", op.amount, err)
			}
		} else if _, err := svc.Debit(ctx, 1, op.amount, ""); err != nil {
			t.Fatalf("debit %d: %v", op.amount, err)
		}
	}

	acc := repo.accounts[1]
	if got := repo.sumTransactions(acc.ID); got != repo.balance(1) {
		t.Fatalf("ledger out of sync: sum %d, balance %d", got, repo.balance(1))
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newCreditsService(repo)
	ctx := context.Background()

	const balance = 10
	if _, err := svc.Credit(ctx, 1, balance, ""); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, 1, balance, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, insufficient int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			var e *repository.InsufficientBalanceError
			if !errors.As(err, &e) {
				t.Fatalf("unexpected error: %v", err)
			}
			insufficient++
		}
	}
	if successes != 1 || insufficient != 1 {
		t.Fatalf("expected one winner and one rejection, got %d/%d", successes, insufficient)
	}
	if repo.balance(1) != 0 {
		t.Fatalf("expected final balance 0, got %d", repo.balance(1))
	}
}
