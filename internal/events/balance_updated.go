package events

import "github.com/shopspring/decimal"

// BalanceUpdated is published exactly once per successful ledger
// mutation, after the repository write, so consumers always observe
// already-durable state. It is immutable once published.
type BalanceUpdated struct {
	OwnerID    string          `json:"owner_id"`
	OwnerType  string          `json:"owner_type"`
	OldBalance decimal.Decimal `json:"old_balance"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Reason     string          `json:"reason,omitempty"`
}
