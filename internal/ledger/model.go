package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

func (t TransactionType) Valid() bool {
	return t == TypeExpense || t == TypeIncome
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

type AccountInput struct {
	Name string `json:"name"`
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryInput struct {
	Name string `json:"name"`
}

type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	AccountName  string          `json:"account_name"`
	CategoryID   *string         `json:"category_id"`
	CategoryName *string         `json:"category_name"`
	Item         string          `json:"item"`
	Amount       decimal.Decimal `json:"amount"`
	Type         TransactionType `json:"type"`
	Description  string          `json:"description"`
	OccurredAt   time.Time       `json:"occurred_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

type TransactionInput struct {
	AccountID   string          `json:"account_id"`
	CategoryID  *string         `json:"category_id"`
	Item        string          `json:"item"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	OccurredAt  *time.Time      `json:"occurred_at"`
}

// TransactionFilter narrows a transaction listing. Zero fields match everything.
// DateFrom is inclusive and DateTo exclusive.
type TransactionFilter struct {
	Search     string
	AccountID  string
	CategoryID string
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	Limit      int
}

type TransactionPage struct {
	Data  []Transaction `json:"data"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// signed returns the amount as it affects the account balance.
func (t Transaction) signed() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}
