package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/refdata"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Tx bundles the transactional ports one posting touches. Every write the
// orchestrator makes goes through the same database transaction, so a
// failing step leaves no journal, no movement and no event behind.
type Tx interface {
	Stock() stock.TxRepository
	Ledger() ledger.TxRepository
	Events() EventRepository
}

// ProductAccountLookup resolves per-product posting accounts.
type ProductAccountLookup interface {
	GetProductAccounts(ctx context.Context, productID int64) (refdata.ProductAccounts, error)
}

// Orchestrator turns approved documents into stock movements and journal
// entries, and backs them out again on edit or cancel.
type Orchestrator struct {
	stock    *stock.Service
	ledger   *ledger.Service
	products ProductAccountLookup
	accounts AccountSet
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewOrchestrator constructs the posting Orchestrator.
func NewOrchestrator(stockSvc *stock.Service, ledgerSvc *ledger.Service, products ProductAccountLookup, accounts AccountSet, metrics *observability.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stock:    stockSvc,
		ledger:   ledgerSvc,
		products: products,
		accounts: accounts,
		metrics:  metrics,
		logger:   logger,
	}
}

// PostDocumentTx posts one document inside the caller's transaction and
// appends a POSTED event tagged with a fresh correlation id.
func (o *Orchestrator) PostDocumentTx(ctx context.Context, tx Tx, doc DocumentInput, opts Options) (Result, error) {
	if err := doc.validate(); err != nil {
		return Result{}, err
	}
	correlationID := ulid.Make().String()

	var (
		input ledger.PostingInput
		plan  []stock.Allocation
		err   error
	)
	switch doc.Kind {
	case KindBill:
		input, err = o.postBill(ctx, tx, doc, opts, correlationID)
	case KindInvoice:
		input, plan, err = o.postInvoice(ctx, tx, doc, opts, correlationID)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownKind, doc.Kind)
	}
	if err != nil {
		return Result{}, err
	}

	entry, err := o.ledger.PostTx(ctx, tx.Ledger(), input)
	if err != nil {
		return Result{}, err
	}
	if _, err := tx.Events().InsertEvent(ctx, Event{
		DocType:       string(doc.Kind),
		DocID:         doc.ID,
		Kind:          EventPosted,
		JournalID:     entry.ID,
		CorrelationID: correlationID,
	}); err != nil {
		return Result{}, err
	}
	o.logger.Info("document posted",
		slog.String("doc_type", string(doc.Kind)),
		slog.Int64("doc_id", doc.ID),
		slog.String("journal", entry.Number),
		slog.String("correlation_id", correlationID))
	return Result{
		JournalID:     entry.ID,
		JournalNumber: entry.Number,
		CorrelationID: correlationID,
		Allocations:   plan,
	}, nil
}

// postBill deposits purchased goods and builds the payable entry: grouped
// debits on inventory or expense accounts, a tax debit, and one credit on
// the payable control account tagged with the supplier.
func (o *Orchestrator) postBill(ctx context.Context, tx Tx, doc DocumentInput, opts Options, correlationID string) (ledger.PostingInput, error) {
	debits := map[int64]float64{}
	for i, l := range doc.Lines {
		accountID := l.AccountID
		if l.ProductID != 0 {
			accounts, err := o.products.GetProductAccounts(ctx, l.ProductID)
			if err != nil {
				return ledger.PostingInput{}, fmt.Errorf("line %d: %w", i+1, err)
			}
			if opts.InventoryEnabled {
				accountID = accounts.InventoryAccountID
				_, err := o.stock.DepositTx(ctx, tx.Stock(), stock.DepositInput{
					CompanyID:     doc.CompanyID,
					ProductID:     l.ProductID,
					WarehouseID:   doc.WarehouseID,
					LotCode:       l.LotCode,
					Qty:           l.Qty,
					UnitCost:      unitCost(l) * doc.Rate,
					ExpiryDate:    l.ExpiryDate,
					DocType:       string(doc.Kind),
					DocID:         doc.ID,
					CorrelationID: correlationID,
				})
				if err != nil {
					return ledger.PostingInput{}, fmt.Errorf("line %d: %w", i+1, err)
				}
			} else {
				accountID = accounts.ExpenseAccountID
			}
		}
		debits[accountID] += l.Amount
	}

	supplier := ledger.EntitySupplier
	lines := groupedLines(debits, true)
	if doc.TaxTotal > 0 {
		lines = append(lines, ledger.LineInput{AccountID: o.accounts.TaxInputID, Debit: doc.TaxTotal})
	}
	lines = append(lines, ledger.LineInput{
		AccountID:  o.accounts.PayableID,
		Credit:     doc.GrandTotal,
		EntityType: &supplier,
		EntityID:   &doc.EntityID,
	})
	return o.postingInput(doc, lines), nil
}

// postInvoice allocates and withdraws sold goods, then builds the
// receivable entry: one debit on the receivable control account tagged
// with the customer, grouped revenue credits, a tax credit, and matched
// cost-of-goods debit/inventory credit pairs from the allocation plan.
func (o *Orchestrator) postInvoice(ctx context.Context, tx Tx, doc DocumentInput, opts Options, correlationID string) (ledger.PostingInput, []stock.Allocation, error) {
	credits := map[int64]float64{}
	cogs := map[int64]float64{}
	inventory := map[int64]float64{}
	var plan []stock.Allocation

	for i, l := range doc.Lines {
		accountID := l.AccountID
		if l.ProductID != 0 {
			accounts, err := o.products.GetProductAccounts(ctx, l.ProductID)
			if err != nil {
				return ledger.PostingInput{}, nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			accountID = accounts.RevenueAccountID
			if opts.InventoryEnabled {
				withdraw := stock.WithdrawInput{
					CompanyID:     doc.CompanyID,
					ProductID:     l.ProductID,
					WarehouseID:   doc.WarehouseID,
					Qty:           l.Qty,
					DocType:       string(doc.Kind),
					DocID:         doc.ID,
					CorrelationID: correlationID,
				}
				var allocations []stock.Allocation
				var err error
				if l.LotCode != "" {
					// A pre-selected lot bypasses the allocator.
					withdraw.LotCode = l.LotCode
					var m stock.Movement
					m, err = o.stock.WithdrawTx(ctx, tx.Stock(), withdraw)
					allocations = []stock.Allocation{{LotCode: l.LotCode, BatchID: m.BatchID, Qty: l.Qty, UnitCost: m.UnitCost}}
				} else {
					allocations, err = o.stock.AllocateTx(ctx, tx.Stock(), withdraw, opts.AllocationPolicy)
				}
				if err != nil {
					if errors.Is(err, stock.ErrInsufficientStock) {
						o.metrics.AllocationFailed()
					}
					return ledger.PostingInput{}, nil, fmt.Errorf("line %d: %w", i+1, err)
				}
				plan = append(plan, allocations...)
				var cost float64
				for _, a := range allocations {
					cost += a.Qty * a.UnitCost
				}
				// Allocation costs are in company currency; the entry is
				// posted in document currency, so divide the rate back out.
				cogs[accounts.COGSAccountID] += cost / doc.Rate
				inventory[accounts.InventoryAccountID] += cost / doc.Rate
			}
		}
		credits[accountID] += l.Amount
	}

	customer := ledger.EntityCustomer
	lines := []ledger.LineInput{{
		AccountID:  o.accounts.ReceivableID,
		Debit:      doc.GrandTotal,
		EntityType: &customer,
		EntityID:   &doc.EntityID,
	}}
	lines = append(lines, groupedLines(credits, false)...)
	if doc.TaxTotal > 0 {
		lines = append(lines, ledger.LineInput{AccountID: o.accounts.TaxOutputID, Credit: doc.TaxTotal})
	}
	for _, pair := range []struct {
		amounts map[int64]float64
		debit   bool
	}{
		{cogs, true},
		{inventory, false},
	} {
		lines = append(lines, groupedLines(pair.amounts, pair.debit)...)
	}
	return o.postingInput(doc, lines), plan, nil
}

// ReverseDocumentTx backs out the document's active journal and its stock
// movements, then appends a REVERSED event. Stock restoration is best
// effort: shortfalls are reported on the result, never as an error.
func (o *Orchestrator) ReverseDocumentTx(ctx context.Context, tx Tx, docType string, docID, actorID int64) (ReverseResult, error) {
	events, err := tx.Events().ListEvents(ctx, docType, docID)
	if err != nil {
		return ReverseResult{}, err
	}
	journalID, ok := ActiveJournal(events)
	if !ok {
		return ReverseResult{}, fmt.Errorf("%w: %s %d", ErrNotPosted, docType, docID)
	}

	correlationID := ulid.Make().String()
	reversal, err := o.ledger.ReverseTx(ctx, tx.Ledger(), journalID, actorID)
	if err != nil {
		return ReverseResult{}, err
	}
	summary, err := o.stock.ReverseDocumentMovementsTx(ctx, tx.Stock(), docType, docID, correlationID)
	if err != nil {
		return ReverseResult{}, err
	}
	if _, err := tx.Events().InsertEvent(ctx, Event{
		DocType:       docType,
		DocID:         docID,
		Kind:          EventReversed,
		JournalID:     journalID,
		CorrelationID: correlationID,
	}); err != nil {
		return ReverseResult{}, err
	}
	o.logger.Info("document reversed",
		slog.String("doc_type", docType),
		slog.Int64("doc_id", docID),
		slog.String("reversal", reversal.Number),
		slog.Int("partial_lots", len(summary.Partial)))
	return ReverseResult{
		ReversalID:     reversal.ID,
		ReversalNumber: reversal.Number,
		CorrelationID:  correlationID,
		Stock:          summary,
	}, nil
}

func (o *Orchestrator) postingInput(doc DocumentInput, lines []ledger.LineInput) ledger.PostingInput {
	return ledger.PostingInput{
		CompanyID: doc.CompanyID,
		EntryDate: doc.Date,
		Memo:      doc.Memo,
		DocType:   string(doc.Kind),
		DocID:     doc.ID,
		Currency:  doc.Currency,
		Rate:      doc.Rate,
		CreatedBy: doc.CreatedBy,
		Lines:     lines,
	}
}

// groupedLines flattens an account→amount map into lines ordered by
// account id so entries come out deterministic.
func groupedLines(amounts map[int64]float64, debit bool) []ledger.LineInput {
	ids := make([]int64, 0, len(amounts))
	for id := range amounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	lines := make([]ledger.LineInput, 0, len(ids))
	for _, id := range ids {
		if amounts[id] == 0 {
			continue
		}
		l := ledger.LineInput{AccountID: id}
		if debit {
			l.Debit = amounts[id]
		} else {
			l.Credit = amounts[id]
		}
		lines = append(lines, l)
	}
	return lines
}

func unitCost(l DocLine) float64 {
	if l.UnitPrice > 0 {
		return l.UnitPrice
	}
	if l.Qty > 0 {
		return l.Amount / l.Qty
	}
	return 0
}
