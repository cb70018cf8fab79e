package interfaces

import (
	"context"

	"github.com/economykit/balance-sync/internal/models"
)

// AccountsRepository is durable storage for accounts keyed by
// (owner id, owner type). Get returns (nil, nil) when no account
// exists; absence is not an error. Upsert is an idempotent overwrite.
type AccountsRepository interface {
	Get(ctx context.Context, ownerID, ownerType string) (*models.Account, error)
	Upsert(ctx context.Context, account models.Account) error
}
