package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountBalanceState is the open holding interval of one address.
type AccountBalanceState struct {
	Address        string          `json:"address"`
	CurrentBalance decimal.Decimal `json:"balance"`
	BalanceSince   time.Time       `json:"balance_since"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
