package documents

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/posting"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// EditState tracks the edit-request workflow on approved documents.
type EditState string

const (
	EditNone    EditState = "NONE"
	EditPending EditState = "PENDING"
)

// Line is one line of a document.
type Line struct {
	ID          int64
	DocumentID  int64
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

// Document is a bill or invoice moving through the approval lifecycle.
// Financial effects exist only while the document is approved.
type Document struct {
	ID          int64
	ExternalID  uuid.UUID
	CompanyID   int64
	Kind        posting.DocKind
	Number      string
	EntityID    int64
	WarehouseID int64
	Currency    string
	Rate        float64
	DocDate     time.Time
	Memo        string
	Status      Status
	EditState   EditState
	Subtotal    float64
	TaxTotal    float64
	GrandTotal  float64
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []Line
}

// Errors returned by document operations.
var (
	ErrNotFound               = errors.New("document not found")
	ErrInvalidStateTransition = errors.New("invalid document state transition")
	ErrEditAlreadyPending     = errors.New("an edit request is already pending")
	ErrNoEditPending          = errors.New("no edit request is pending")
	ErrNoLines                = errors.New("document requires at least one line")
)

func transitionErr(d Document, action string) error {
	return fmt.Errorf("%w: cannot %s document %s in status %s", ErrInvalidStateTransition, action, d.Number, d.Status)
}

// canEdit reports whether the document contents may still change.
func (d Document) canEdit() bool {
	return d.Status == StatusDraft || d.Status == StatusRejected
}

func (d Document) canSubmit() error {
	if d.Status != StatusDraft && d.Status != StatusRejected {
		return transitionErr(d, "submit")
	}
	return nil
}

func (d Document) canDecide() error {
	if d.Status != StatusSubmitted {
		return transitionErr(d, "decide")
	}
	return nil
}

func (d Document) canRequestEdit() error {
	if d.Status != StatusApproved {
		return transitionErr(d, "request edit on")
	}
	if d.EditState == EditPending {
		return ErrEditAlreadyPending
	}
	return nil
}

func (d Document) canDecideEdit() error {
	if d.Status != StatusApproved {
		return transitionErr(d, "decide edit on")
	}
	if d.EditState != EditPending {
		return ErrNoEditPending
	}
	return nil
}

func (d Document) canCancel() error {
	if d.Status != StatusApproved {
		return transitionErr(d, "cancel")
	}
	if d.EditState == EditPending {
		return ErrEditAlreadyPending
	}
	return nil
}

// PostingInput maps the document to the posting engine's shape.
func (d Document) PostingInput() posting.DocumentInput {
	lines := make([]posting.DocLine, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, posting.DocLine{
			ProductID:   l.ProductID,
			AccountID:   l.AccountID,
			Description: l.Description,
			Qty:         l.Qty,
			UnitPrice:   l.UnitPrice,
			Amount:      l.Amount,
			TaxAmount:   l.TaxAmount,
			LotCode:     l.LotCode,
			ExpiryDate:  l.ExpiryDate,
		})
	}
	return posting.DocumentInput{
		Kind:        d.Kind,
		ID:          d.ID,
		CompanyID:   d.CompanyID,
		EntityID:    d.EntityID,
		WarehouseID: d.WarehouseID,
		Currency:    d.Currency,
		Rate:        d.Rate,
		Date:        d.DocDate,
		Memo:        d.Memo,
		CreatedBy:   d.CreatedBy,
		Subtotal:    d.Subtotal,
		TaxTotal:    d.TaxTotal,
		GrandTotal:  d.GrandTotal,
		Lines:       lines,
	}
}
