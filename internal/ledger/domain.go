package ledger

import (
	"errors"
	"math"
	"time"
)

// EntityType distinguishes the counterparty a subledger line belongs to.
type EntityType string

const (
	EntityCustomer EntityType = "CUSTOMER"
	EntitySupplier EntityType = "SUPPLIER"
)

// Entry is a posted journal entry with its lines. ForeignAmount is the
// entry total in document currency, BaseAmount its company-currency value.
type Entry struct {
	ID            int64
	CompanyID     int64
	Number        string
	EntryDate     time.Time
	Memo          string
	DocType       string
	DocID         int64
	Currency      string
	Rate          float64
	ForeignAmount float64
	BaseAmount    float64
	ReversesID    *int64
	ReversedBy    *int64
	CreatedBy     int64
	CreatedAt     time.Time
	Lines         []Line
}

// Line is a single debit or credit on an account, optionally tagged with
// the counterparty for subledger accounts.
type Line struct {
	ID         int64
	EntryID    int64
	AccountID  int64
	Debit      float64
	Credit     float64
	EntityType *EntityType
	EntityID   *int64
	Memo       string
}

// EntityBalance is the cached running balance for one counterparty.
type EntityBalance struct {
	CompanyID  int64
	EntityType EntityType
	EntityID   int64
	Balance    float64
	UpdatedAt  time.Time
}

// balanceTolerance absorbs float rounding when checking debit/credit sums.
const balanceTolerance = 0.01

// Errors returned by journal operations.
var (
	ErrNoLines         = errors.New("entry requires at least two lines")
	ErrUnbalanced      = errors.New("debits and credits do not balance")
	ErrBothSides       = errors.New("line cannot carry both debit and credit")
	ErrEmptyLine       = errors.New("line carries neither debit nor credit")
	ErrMissingEntity   = errors.New("account requires a counterparty on the line")
	ErrEntryNotFound   = errors.New("journal entry not found")
	ErrAlreadyReversed = errors.New("journal entry already reversed")
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// entityDelta is the signed balance effect of a line on its counterparty:
// debit minus credit for every entity type. Receivables come out positive,
// payables negative; presentation layers negate for "amount owed" views.
func entityDelta(_ EntityType, debit, credit float64) float64 {
	return debit - credit
}
