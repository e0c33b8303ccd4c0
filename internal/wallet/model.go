package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

type Wallet struct {
	UserID       uint            `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Transactions []Transaction   `json:"transactions"`
}

type Transaction struct {
	ID        string          `json:"id"`
	UserID    uint            `json:"user_id"`
	Type      TransactionType `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	OrderID   *string         `json:"order_id,omitempty"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// Entry is a balance movement requested by another module. Reference must be
// stable across retries of the same operation.
type Entry struct {
	UserID    uint
	Amount    decimal.Decimal
	OrderID   string
	Reference string
	Reason    string
}
