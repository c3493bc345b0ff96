package refdata

import "errors"

// AccountType classifies ledger accounts.
type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountIncome    AccountType = "INCOME"
	AccountExpense   AccountType = "EXPENSE"
)

// Account is a row in the chart of accounts.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Type           AccountType
	RequiresEntity bool
	Active         bool
}

// ProductAccounts holds the posting accounts configured per product.
type ProductAccounts struct {
	ProductID          int64
	InventoryAccountID int64
	COGSAccountID      int64
	RevenueAccountID   int64
	ExpenseAccountID   int64
}

// CurrencyRate is the conversion rate from a currency to the company currency.
type CurrencyRate struct {
	Code string
	Rate float64
}

// Errors returned by reference data lookups.
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrProductNotMapped = errors.New("product has no posting accounts")
	ErrCurrencyUnknown  = errors.New("currency rate not found")
)
