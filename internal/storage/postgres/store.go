package postgres

import (
	"context"
	"database/sql"

	"github.com/economykit/balance-sync/internal/interfaces"
	"github.com/economykit/balance-sync/internal/models"
)

// AccountsRepository persists accounts in postgres. Expected schema:
//
//	CREATE TABLE accounts (
//	    owner_id   TEXT    NOT NULL,
//	    owner_type TEXT    NOT NULL,
//	    balance    NUMERIC NOT NULL,
//	    PRIMARY KEY (owner_id, owner_type)
//	);
//
// NUMERIC keeps exact-decimal semantics end to end.
type AccountsRepository struct {
	db *sql.DB
}

func NewAccountsRepository(db *sql.DB) *AccountsRepository {
	return &AccountsRepository{
		db: db,
	}
}

func (r *AccountsRepository) Get(ctx context.Context, ownerID, ownerType string) (*models.Account, error) {
	const query = `SELECT owner_id, owner_type, balance FROM accounts WHERE owner_id = $1 AND owner_type = $2`

	var account models.Account
	err := r.db.QueryRowContext(ctx, query, ownerID, ownerType).
		Scan(&account.OwnerID, &account.OwnerType, &account.Balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountsRepository) Upsert(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (owner_id, owner_type, balance)
	VALUES ($1, $2, $3)
	ON CONFLICT (owner_id, owner_type) DO UPDATE SET balance = EXCLUDED.balance`

	_, err := r.db.ExecContext(ctx, query, account.OwnerID, account.OwnerType, account.Balance)
	return err
}

var _ interfaces.AccountsRepository = (*AccountsRepository)(nil)
