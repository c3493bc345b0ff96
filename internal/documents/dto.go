package documents

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/posting"
)

// LineInput is one requested document line.
type LineInput struct {
	ProductID   int64      `json:"product_id"`
	AccountID   int64      `json:"account_id"`
	Description string     `json:"description" validate:"max=255"`
	Qty         float64    `json:"qty" validate:"gte=0"`
	UnitPrice   float64    `json:"unit_price" validate:"gte=0"`
	Amount      float64    `json:"amount" validate:"gte=0"`
	TaxAmount   float64    `json:"tax_amount" validate:"gte=0"`
	LotCode     string     `json:"lot_code" validate:"max=64"`
	ExpiryDate  *time.Time `json:"expiry_date"`
}

// CreateInput is the payload for creating or replacing a document.
type CreateInput struct {
	CompanyID   int64       `json:"company_id" validate:"required"`
	Kind        string      `json:"kind" validate:"required,oneof=BILL INVOICE"`
	EntityID    int64       `json:"entity_id" validate:"required"`
	WarehouseID int64       `json:"warehouse_id"`
	Currency    string      `json:"currency" validate:"omitempty,len=3"`
	Rate        float64     `json:"rate" validate:"gte=0"`
	DocDate     time.Time   `json:"doc_date" validate:"required"`
	Memo        string      `json:"memo" validate:"max=500"`
	CreatedBy   int64       `json:"-"`
	Lines       []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// document builds the draft with header totals recomputed from the lines.
func (in CreateInput) document() Document {
	doc := Document{
		ExternalID:  uuid.New(),
		CompanyID:   in.CompanyID,
		Kind:        posting.DocKind(in.Kind),
		EntityID:    in.EntityID,
		WarehouseID: in.WarehouseID,
		Currency:    in.Currency,
		Rate:        in.Rate,
		DocDate:     in.DocDate,
		Memo:        in.Memo,
		Status:      StatusDraft,
		EditState:   EditNone,
		CreatedBy:   in.CreatedBy,
	}
	if doc.Rate <= 0 {
		doc.Rate = 1
	}
	for _, l := range in.Lines {
		doc.Lines = append(doc.Lines, Line{
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
		doc.Subtotal += l.Amount
		doc.TaxTotal += l.TaxAmount
	}
	doc.Subtotal = round2(doc.Subtotal)
	doc.TaxTotal = round2(doc.TaxTotal)
	doc.GrandTotal = round2(doc.Subtotal + doc.TaxTotal)
	return doc
}

// DecisionInput carries an approval or rejection note.
type DecisionInput struct {
	Note string `json:"note" validate:"max=500"`
}

// ApproveInput tunes how approval posts the document.
type ApproveInput struct {
	InventoryEnabled *bool  `json:"inventory_enabled"`
	AllocationPolicy string `json:"allocation_policy" validate:"omitempty,oneof=FIFO FEFO"`
}

// EditDecisionInput resolves a pending edit request.
type EditDecisionInput struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note" validate:"max=500"`
}
