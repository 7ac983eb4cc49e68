package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ChangeType string

const (
	ChangeMint        ChangeType = "mint"
	ChangeBurn        ChangeType = "burn"
	ChangeTransferIn  ChangeType = "transfer_in"
	ChangeTransferOut ChangeType = "transfer_out"
	ChangeSync        ChangeType = "sync"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeMint, ChangeBurn, ChangeTransferIn, ChangeTransferOut, ChangeSync:
		return true
	}
	return false
}

// BalanceEvent is one balance change reported by the external indexer.
type BalanceEvent struct {
	ID          int64           `json:"id,omitempty"`
	Address     string          `json:"address"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	Timestamp   time.Time       `json:"timestamp"`
	TxHash      string          `json:"tx_hash"`
	ChangeType  ChangeType      `json:"change_type"`
	BlockNumber uint64          `json:"block_number"`
	ReceivedAt  time.Time       `json:"received_at,omitempty"`
}

// Normalize canonicalizes the address, tx hash and timestamp and validates
// the rest. It is idempotent.
func (e *BalanceEvent) Normalize() error {
	addr, err := CanonicalAddress(e.Address)
	if err != nil {
		return err
	}
	e.Address = addr
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp for %s", ErrInvalidEvent, addr)
	}
	e.Timestamp = NormalizeTime(e.Timestamp)
	if e.NewBalance.IsNegative() {
		return fmt.Errorf("%w: negative balance for %s", ErrInvalidEvent, addr)
	}
	if !e.NewBalance.Equal(e.NewBalance.Truncate(0)) {
		return fmt.Errorf("%w: fractional balance %s for %s", ErrInvalidEvent, e.NewBalance, addr)
	}
	e.TxHash = strings.ToLower(strings.TrimSpace(e.TxHash))
	if e.ChangeType == "" {
		e.ChangeType = ChangeSync
	}
	if !e.ChangeType.Valid() {
		return fmt.Errorf("%w: unknown change type %q", ErrInvalidEvent, e.ChangeType)
	}
	return nil
}

// DedupKey identifies one delivery of a transaction's effect on one address.
// A transfer touches two addresses within the same tx.
func (e *BalanceEvent) DedupKey() string {
	if e.TxHash == "" {
		return ""
	}
	return e.TxHash + ":" + e.Address
}
