package ledger

import (
	"fmt"
	"time"
)

// LineInput is one requested journal line. Amounts are in document currency.
type LineInput struct {
	AccountID  int64
	Debit      float64
	Credit     float64
	EntityType *EntityType
	EntityID   *int64
	Memo       string
}

// PostingInput is a request to post a balanced journal entry. ForeignAmount
// and BaseAmount are optional; whichever is missing is derived at the rate,
// and when neither is supplied both default from the debit total.
type PostingInput struct {
	CompanyID     int64
	EntryDate     time.Time
	Memo          string
	DocType       string
	DocID         int64
	Currency      string
	Rate          float64
	ForeignAmount float64
	BaseAmount    float64
	CreatedBy     int64
	Lines         []LineInput
}

// Validate checks structural rules before any account lookup: at least two
// lines, every line on exactly one side, and the two sides matching within
// a one-cent tolerance after conversion.
func (in *PostingInput) Validate() error {
	if len(in.Lines) < 2 {
		return ErrNoLines
	}
	if in.Rate <= 0 {
		in.Rate = 1
	}
	var debits, credits float64
	for i, l := range in.Lines {
		if l.Debit < 0 || l.Credit < 0 {
			return fmt.Errorf("%w: line %d has a negative amount", ErrBothSides, i+1)
		}
		if l.Debit > 0 && l.Credit > 0 {
			return fmt.Errorf("%w: line %d", ErrBothSides, i+1)
		}
		if l.Debit == 0 && l.Credit == 0 {
			return fmt.Errorf("%w: line %d", ErrEmptyLine, i+1)
		}
		debits += l.Debit
		credits += l.Credit
	}
	if diff := round2(debits - credits); diff > balanceTolerance || diff < -balanceTolerance {
		return fmt.Errorf("%w: debits %.2f credits %.2f", ErrUnbalanced, debits, credits)
	}
	in.resolveAmounts(debits)
	return nil
}

// resolveAmounts fills the header amounts from whichever side was supplied:
// a foreign amount converts forward at the rate, a base amount back-derives
// the foreign one, and with neither both default from the debit total.
func (in *PostingInput) resolveAmounts(debitTotal float64) {
	switch {
	case in.ForeignAmount > 0:
		in.BaseAmount = round2(in.ForeignAmount * in.Rate)
	case in.BaseAmount > 0:
		in.ForeignAmount = round2(in.BaseAmount / in.Rate)
	default:
		in.ForeignAmount = round2(debitTotal)
		in.BaseAmount = round2(debitTotal * in.Rate)
	}
}

// BaseLines converts the input lines to company currency at the entry rate,
// rounded to cents.
func (in *PostingInput) BaseLines() []Line {
	rate := in.Rate
	if rate <= 0 {
		rate = 1
	}
	lines := make([]Line, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, Line{
			AccountID:  l.AccountID,
			Debit:      round2(l.Debit * rate),
			Credit:     round2(l.Credit * rate),
			EntityType: l.EntityType,
			EntityID:   l.EntityID,
			Memo:       l.Memo,
		})
	}
	return lines
}
