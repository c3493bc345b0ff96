package refdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads reference data from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetAccountByCode returns the active account with the given code.
func (r *Repository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, type, requires_entity, active
FROM accounts WHERE code=$1`, code).Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.RequiresEntity, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// GetAccount returns the account with the given id.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, type, requires_entity, active
FROM accounts WHERE id=$1`, id).Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.RequiresEntity, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, type, requires_entity, active
FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.RequiresEntity, &a.Active); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetProductAccounts returns the posting account mapping for a product.
func (r *Repository) GetProductAccounts(ctx context.Context, productID int64) (ProductAccounts, error) {
	var p ProductAccounts
	err := r.pool.QueryRow(ctx, `SELECT product_id, inventory_account_id, cogs_account_id, revenue_account_id, expense_account_id
FROM product_accounts WHERE product_id=$1`, productID).
		Scan(&p.ProductID, &p.InventoryAccountID, &p.COGSAccountID, &p.RevenueAccountID, &p.ExpenseAccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductAccounts{}, ErrProductNotMapped
	}
	if err != nil {
		return ProductAccounts{}, err
	}
	return p, nil
}

// GetCurrencyRate returns the conversion rate for a currency code.
func (r *Repository) GetCurrencyRate(ctx context.Context, code string) (CurrencyRate, error) {
	var c CurrencyRate
	err := r.pool.QueryRow(ctx, `SELECT code, rate FROM currencies WHERE code=$1`, code).Scan(&c.Code, &c.Rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return CurrencyRate{}, ErrCurrencyUnknown
	}
	if err != nil {
		return CurrencyRate{}, err
	}
	return c, nil
}
