package models

import "time"

// Transaction kinds recorded in the ledger. PURCHASE entries carry positive
// amounts, USAGE entries negative ones.
const (
	TransactionTypePurchase = "PURCHASE"
	TransactionTypeUsage    = "USAGE"
)

// CreditAccount holds the current credit balance for one user. Created lazily
// on first read or write, never deleted.
type CreditAccount struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreditTransaction is one append-only ledger entry. The sum of all entries
// for an account always equals the account balance.
type CreditTransaction struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"accountId"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}
