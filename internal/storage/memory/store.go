package memory

import (
	"context"
	"sync"

	"github.com/economykit/balance-sync/internal/interfaces"
	"github.com/economykit/balance-sync/internal/models"
)

// AccountsRepository is an in-memory implementation of
// interfaces.AccountsRepository, safe for concurrent use.
type AccountsRepository struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
}

func NewAccountsRepository() *AccountsRepository {
	return &AccountsRepository{
		accounts: make(map[string]models.Account),
	}
}

func key(ownerID, ownerType string) string {
	return ownerType + ":" + ownerID
}

func (r *AccountsRepository) Get(ctx context.Context, ownerID, ownerType string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[key(ownerID, ownerType)]
	if !ok {
		return nil, nil
	}
	// return a copy so callers cannot mutate stored state
	copied := account
	return &copied, nil
}

func (r *AccountsRepository) Upsert(ctx context.Context, account models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts[key(account.OwnerID, account.OwnerType)] = account
	return nil
}

var _ interfaces.AccountsRepository = (*AccountsRepository)(nil)
