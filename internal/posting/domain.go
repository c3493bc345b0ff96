package posting

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// DocKind selects the posting recipe for a document.
type DocKind string

const (
	// KindBill is a supplier bill: goods or services coming in.
	KindBill DocKind = "BILL"
	// KindInvoice is a customer invoice: goods or services going out.
	KindInvoice DocKind = "INVOICE"
)

// DocLine is one financial line of a document. Product lines carry a
// product id and move stock; service lines carry an explicit account.
type DocLine struct {
	ProductID   int64
	AccountID   int64
	Description string
	Qty         float64
	UnitPrice   float64
	Amount      float64
	TaxAmount   float64
	LotCode     string
	ExpiryDate  *time.Time
}

// DocumentInput is everything the posting engine needs from a document.
// Amounts are in the document currency.
type DocumentInput struct {
	Kind        DocKind
	ID          int64
	CompanyID   int64
	EntityID    int64
	WarehouseID int64
	Currency    string
	Rate        float64
	Date        time.Time
	Memo        string
	CreatedBy   int64
	Subtotal    float64
	TaxTotal    float64
	GrandTotal  float64
	Lines       []DocLine
}

// Options tunes a single posting call.
type Options struct {
	InventoryEnabled bool
	AllocationPolicy stock.AllocationPolicy
}

// Result reports what a posting produced.
type Result struct {
	JournalID     int64
	JournalNumber string
	CorrelationID string
	Allocations   []stock.Allocation
}

// ReverseResult reports what a reversal undid.
type ReverseResult struct {
	ReversalID     int64
	ReversalNumber string
	CorrelationID  string
	Stock          stock.ReversalSummary
}

// amountTolerance absorbs float rounding in document totals.
const amountTolerance = 0.01

// Errors returned by the posting engine.
var (
	ErrSubtotalMismatch = errors.New("line amounts do not sum to the subtotal")
	ErrTotalMismatch    = errors.New("grand total does not equal subtotal plus tax")
	ErrMissingEntity    = errors.New("document requires a counterparty")
	ErrNotPosted        = errors.New("document has no active journal")
	ErrUnknownKind      = errors.New("unknown document kind")
)

func (d *DocumentInput) validate() error {
	if d.EntityID == 0 {
		return ErrMissingEntity
	}
	if d.Rate <= 0 {
		d.Rate = 1
	}
	var lineSum, taxSum float64
	for _, l := range d.Lines {
		lineSum += l.Amount
		taxSum += l.TaxAmount
	}
	if math.Abs(lineSum-d.Subtotal) > amountTolerance {
		return fmt.Errorf("%w: lines %.2f subtotal %.2f", ErrSubtotalMismatch, lineSum, d.Subtotal)
	}
	if math.Abs(taxSum-d.TaxTotal) > amountTolerance {
		return fmt.Errorf("%w: line tax %.2f tax total %.2f", ErrSubtotalMismatch, taxSum, d.TaxTotal)
	}
	if math.Abs(d.Subtotal+d.TaxTotal-d.GrandTotal) > amountTolerance {
		return fmt.Errorf("%w: %.2f + %.2f != %.2f", ErrTotalMismatch, d.Subtotal, d.TaxTotal, d.GrandTotal)
	}
	return nil
}
