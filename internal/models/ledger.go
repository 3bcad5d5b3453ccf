package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger record kinds.
const (
	LedgerKindRecharge    = "recharge"
	LedgerKindConsume     = "consume"
	LedgerKindRefund      = "refund"
	LedgerKindAdminAdjust = "admin_adjust"
)

// ValidLedgerKind reports whether kind is one of the four record kinds.
func ValidLedgerKind(kind string) bool {
	switch kind {
	case LedgerKindRecharge, LedgerKindConsume, LedgerKindRefund, LedgerKindAdminAdjust:
		return true
	}
	return false
}

// LedgerRecord is append-only: rows are never updated or deleted. Replaying
// a user's records in creation order from zero must reproduce BalanceAfter of
// the last record, which equals the cached User.JingdouBalance.
type LedgerRecord struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	Kind         string     `json:"kind"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	Remark       string     `json:"remark"`
	CreatedAt    time.Time  `json:"created_at"`
}
