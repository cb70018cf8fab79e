package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientBalanceError rejects an update that would make a balance
// negative. Balance is the account's value at the time of rejection;
// the account is left untouched. The error is never retried inside the
// ledger, the caller decides whether to reject, clamp, or partially
// apply.
type InsufficientBalanceError struct {
	Balance decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("not enough balance: have %s", e.Balance)
}
