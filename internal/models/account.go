package models

import "github.com/shopspring/decimal"

// Account holds the persisted balance for one owner identity.
// The (OwnerID, OwnerType) pair is the composite key; the persistence
// layer enforces its uniqueness.
type Account struct {
	OwnerID   string
	OwnerType string
	Balance   decimal.Decimal
}
