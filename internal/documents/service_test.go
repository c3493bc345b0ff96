package documents

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/refdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

type stockRepo struct {
	nextID    int64
	batches   map[int64]*stock.Batch
	movements []*stock.Movement
}

func (r *stockRepo) GetBatchForUpdate(_ context.Context, companyID, productID, warehouseID int64, lotCode string) (stock.Batch, error) {
	for _, b := range r.batches {
		if b.CompanyID == companyID && b.ProductID == productID && b.WarehouseID == warehouseID && b.LotCode == lotCode {
			return *b, nil
		}
	}
	return stock.Batch{}, stock.ErrBatchNotFound
}

func (r *stockRepo) GetBatchByIDForUpdate(_ context.Context, id int64) (stock.Batch, error) {
	if b, ok := r.batches[id]; ok {
		return *b, nil
	}
	return stock.Batch{}, stock.ErrBatchNotFound
}

func (r *stockRepo) InsertBatch(_ context.Context, b stock.Batch) (int64, error) {
	r.nextID++
	b.ID = r.nextID
	b.ReceivedAt = time.Now()
	r.batches[b.ID] = &b
	return b.ID, nil
}

func (r *stockRepo) UpdateBatch(_ context.Context, id int64, qty, unitCost float64) error {
	b := r.batches[id]
	b.Qty = qty
	b.UnitCost = unitCost
	return nil
}

func (r *stockRepo) InsertMovement(_ context.Context, m stock.Movement) (int64, error) {
	r.nextID++
	m.ID = r.nextID
	r.movements = append(r.movements, &m)
	return m.ID, nil
}

func (r *stockRepo) ListDocumentMovements(_ context.Context, docType string, docID int64) ([]stock.Movement, error) {
	var out []stock.Movement
	for _, m := range r.movements {
		if m.DocType == docType && m.DocID == docID && !m.Voided {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *stockRepo) VoidMovement(_ context.Context, id int64) error {
	for _, m := range r.movements {
		if m.ID == id {
			m.Voided = true
		}
	}
	return nil
}

func (r *stockRepo) ListCandidateLots(_ context.Context, companyID, productID, warehouseID int64) ([]stock.CandidateLot, error) {
	var lots []stock.CandidateLot
	for _, b := range r.batches {
		if b.CompanyID == companyID && b.ProductID == productID && b.WarehouseID == warehouseID && b.Qty > 0 {
			lots = append(lots, stock.CandidateLot{
				BatchID: b.ID, LotCode: b.LotCode, Available: b.Qty,
				UnitCost: b.UnitCost, FirstInflowAt: b.ReceivedAt, ExpiryDate: b.ExpiryDate,
			})
		}
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].BatchID < lots[j].BatchID })
	return lots, nil
}

type balanceKey struct {
	entityType ledger.EntityType
	entityID   int64
}

type ledgerRepo struct {
	nextID   int64
	counter  int64
	entries  map[int64]*ledger.Entry
	lines    []ledger.Line
	balances map[balanceKey]float64
}

func (r *ledgerRepo) NextNumber(_ context.Context, _ int64, _ int) (int64, error) {
	r.counter++
	return r.counter, nil
}

func (r *ledgerRepo) InsertEntry(_ context.Context, e ledger.Entry) (int64, error) {
	r.nextID++
	e.ID = r.nextID
	r.entries[e.ID] = &e
	return e.ID, nil
}

func (r *ledgerRepo) InsertLine(_ context.Context, l ledger.Line) (int64, error) {
	r.nextID++
	l.ID = r.nextID
	r.lines = append(r.lines, l)
	return l.ID, nil
}

func (r *ledgerRepo) GetEntry(_ context.Context, id int64) (ledger.Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	out := *e
	out.Lines = nil
	for _, l := range r.lines {
		if l.EntryID == id {
			out.Lines = append(out.Lines, l)
		}
	}
	return out, nil
}

func (r *ledgerRepo) MarkReversed(_ context.Context, id, reversalID int64) error {
	r.entries[id].ReversedBy = &reversalID
	return nil
}

func (r *ledgerRepo) UpsertEntityBalanceDelta(_ context.Context, _ int64, entityType ledger.EntityType, entityID int64, delta float64) error {
	r.balances[balanceKey{entityType, entityID}] += delta
	return nil
}

func (r *ledgerRepo) DeleteEntityBalances(_ context.Context, _ int64) error    { return nil }
func (r *ledgerRepo) RecomputeEntityBalances(_ context.Context, _ int64) error { return nil }

func (r *ledgerRepo) GetEntityBalance(_ context.Context, companyID int64, entityType ledger.EntityType, entityID int64) (ledger.EntityBalance, error) {
	return ledger.EntityBalance{CompanyID: companyID, EntityType: entityType, EntityID: entityID,
		Balance: r.balances[balanceKey{entityType, entityID}]}, nil
}

type eventRepo struct {
	nextID int64
	events []posting.Event
}

func (r *eventRepo) InsertEvent(_ context.Context, e posting.Event) (int64, error) {
	r.nextID++
	e.ID = r.nextID
	r.events = append(r.events, e)
	return e.ID, nil
}

func (r *eventRepo) ListEvents(_ context.Context, docType string, docID int64) ([]posting.Event, error) {
	var out []posting.Event
	for _, e := range r.events {
		if e.DocType == docType && e.DocID == docID {
			out = append(out, e)
		}
	}
	return out, nil
}

type docRepo struct {
	nextID int64
	docs   map[int64]*Document
}

func (r *docRepo) GetDocumentForUpdate(_ context.Context, id int64) (Document, error) {
	d, ok := r.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *d, nil
}

func (r *docRepo) InsertDocument(_ context.Context, d Document) (int64, error) {
	r.nextID++
	d.ID = r.nextID
	d.Lines = nil
	r.docs[d.ID] = &d
	return d.ID, nil
}

func (r *docRepo) InsertLine(_ context.Context, l Line) (int64, error) {
	d := r.docs[l.DocumentID]
	l.ID = int64(len(d.Lines) + 1)
	d.Lines = append(d.Lines, l)
	return l.ID, nil
}

func (r *docRepo) UpdateDocument(_ context.Context, d Document) error {
	current := r.docs[d.ID]
	d.Lines = current.Lines
	d.Status = current.Status
	d.EditState = current.EditState
	d.Number = current.Number
	r.docs[d.ID] = &d
	return nil
}

func (r *docRepo) DeleteLines(_ context.Context, documentID int64) error {
	r.docs[documentID].Lines = nil
	return nil
}

func (r *docRepo) SetNumber(_ context.Context, id int64, number string) error {
	r.docs[id].Number = number
	return nil
}

func (r *docRepo) SetStatus(_ context.Context, id int64, status Status) error {
	r.docs[id].Status = status
	return nil
}

func (r *docRepo) SetEditState(_ context.Context, id int64, state EditState) error {
	r.docs[id].EditState = state
	return nil
}

type memoryTx struct {
	stockRepo  *stockRepo
	ledgerRepo *ledgerRepo
	eventRepo  *eventRepo
	docRepo    *docRepo
}

func newMemoryTx() *memoryTx {
	return &memoryTx{
		stockRepo:  &stockRepo{batches: map[int64]*stock.Batch{}},
		ledgerRepo: &ledgerRepo{entries: map[int64]*ledger.Entry{}, balances: map[balanceKey]float64{}},
		eventRepo:  &eventRepo{},
		docRepo:    &docRepo{docs: map[int64]*Document{}},
	}
}

func (t *memoryTx) Stock() stock.TxRepository       { return t.stockRepo }
func (t *memoryTx) Ledger() ledger.TxRepository     { return t.ledgerRepo }
func (t *memoryTx) Events() posting.EventRepository { return t.eventRepo }
func (t *memoryTx) Documents() TxRepository         { return t.docRepo }

type openAccounts struct{}

func (openAccounts) GetAccount(_ context.Context, id int64) (refdata.Account, error) {
	return refdata.Account{ID: id, Active: true}, nil
}

type stubProducts struct{}

func (stubProducts) GetProductAccounts(_ context.Context, productID int64) (refdata.ProductAccounts, error) {
	return refdata.ProductAccounts{
		ProductID: productID, InventoryAccountID: 130, COGSAccountID: 500,
		RevenueAccountID: 400, ExpenseAccountID: 510,
	}, nil
}

type stubRates map[string]float64

func (r stubRates) GetCurrencyRate(_ context.Context, code string) (refdata.CurrencyRate, error) {
	rate, ok := r[code]
	if !ok {
		return refdata.CurrencyRate{}, refdata.ErrCurrencyUnknown
	}
	return refdata.CurrencyRate{Code: code, Rate: rate}, nil
}

type approvalLog struct {
	actions []shared.ApprovalAction
}

func (l *approvalLog) Record(_ context.Context, log shared.ApprovalLog) error {
	l.actions = append(l.actions, log.Action)
	return nil
}

func newTestService() (*Service, *memoryTx, *approvalLog) {
	logger := slog.Default()
	tx := newMemoryTx()
	run := func(_ context.Context, fn func(Tx) error) error { return fn(tx) }
	accounts := posting.AccountSet{PayableID: 200, ReceivableID: 120, TaxInputID: 150, TaxOutputID: 250}
	orchestrator := posting.NewOrchestrator(
		stock.NewService(nil, logger),
		ledger.NewService(nil, logger, openAccounts{}, nil, nil),
		stubProducts{}, accounts, nil, logger)
	approvals := &approvalLog{}
	rates := stubRates{"EUR": 1.1}
	svc := NewService(run, orchestrator, rates, nil, approvals, nil, nil, logger)
	return svc, tx, approvals
}

func billInput() CreateInput {
	return CreateInput{
		CompanyID:   1,
		Kind:        "BILL",
		EntityID:    9,
		WarehouseID: 1,
		DocDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Memo:        "March stock",
		CreatedBy:   3,
		Lines: []LineInput{
			{ProductID: 7, Qty: 20, UnitPrice: 5, Amount: 100, TaxAmount: 5, LotCode: "L1"},
		},
	}
}

func supplierBalance(tx *memoryTx) float64 {
	return tx.ledgerRepo.balances[balanceKey{ledger.EntitySupplier, 9}]
}

func TestCreateRecomputesTotals(t *testing.T) {
	svc, _, _ := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, EditNone, doc.EditState)
	require.Equal(t, "BILL-2026-000001", doc.Number)
	require.InDelta(t, 100, doc.Subtotal, 0.001)
	require.InDelta(t, 5, doc.TaxTotal, 0.001)
	require.InDelta(t, 105, doc.GrandTotal, 0.001)
}

func TestCreateResolvesCurrencyRate(t *testing.T) {
	svc, _, _ := newTestService()

	in := billInput()
	in.Currency = "EUR"
	doc, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.InDelta(t, 1.1, doc.Rate, 0.001)
}

func TestCreateKeepsExplicitRate(t *testing.T) {
	svc, _, _ := newTestService()

	in := billInput()
	in.Currency = "EUR"
	in.Rate = 1.25
	doc, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.InDelta(t, 1.25, doc.Rate, 0.001)
}

func TestCreateUnknownCurrencyFails(t *testing.T) {
	svc, _, _ := newTestService()

	in := billInput()
	in.Currency = "XXX"
	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, refdata.ErrCurrencyUnknown)
}

func TestUpdateResolvesCurrencyRate(t *testing.T) {
	svc, tx, _ := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)

	in := billInput()
	in.Currency = "EUR"
	_, err = svc.Update(context.Background(), doc.ID, 3, in)
	require.NoError(t, err)
	require.InDelta(t, 1.1, tx.docRepo.docs[doc.ID].Rate, 0.001)
}

func TestApproveRequiresSubmitted(t *testing.T) {
	svc, _, _ := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), doc.ID, 5, posting.Options{})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestSubmitApprovePostsEffects(t *testing.T) {
	svc, tx, approvals := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))

	result, err := svc.Approve(context.Background(), doc.ID, 5, posting.Options{InventoryEnabled: true})
	require.NoError(t, err)
	require.NotZero(t, result.JournalID)

	require.Equal(t, StatusApproved, tx.docRepo.docs[doc.ID].Status)
	require.InDelta(t, -105, supplierBalance(tx), 0.001)
	b, err := tx.stockRepo.GetBatchForUpdate(context.Background(), 1, 7, 1, "L1")
	require.NoError(t, err)
	require.InDelta(t, 20, b.Qty, 0.001)
	require.Equal(t, []shared.ApprovalAction{shared.ApprovalSubmit, shared.ApprovalApprove}, approvals.actions)
}

func TestRejectedDocumentCanBeEditedAndResubmitted(t *testing.T) {
	svc, tx, _ := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))
	require.NoError(t, svc.Reject(context.Background(), doc.ID, 5, "wrong qty"))
	require.Equal(t, StatusRejected, tx.docRepo.docs[doc.ID].Status)

	in := billInput()
	in.Lines[0].Qty = 10
	in.Lines[0].Amount = 50
	in.Lines[0].TaxAmount = 2.5
	_, err = svc.Update(context.Background(), doc.ID, 3, in)
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))

	// Nothing was ever posted along the way.
	require.Empty(t, tx.ledgerRepo.entries)
	require.Empty(t, tx.stockRepo.movements)
}

func TestUpdateApprovedDocumentFails(t *testing.T) {
	svc, _, _ := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))
	_, err = svc.Approve(context.Background(), doc.ID, 5, posting.Options{})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), doc.ID, 3, billInput())
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestEditRoundTripLeavesOnlyLatestVersion(t *testing.T) {
	svc, tx, approvals := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))
	_, err = svc.Approve(context.Background(), doc.ID, 5, posting.Options{InventoryEnabled: true})
	require.NoError(t, err)

	require.NoError(t, svc.RequestEdit(context.Background(), doc.ID, 3, "price was wrong"))
	require.Equal(t, EditPending, tx.docRepo.docs[doc.ID].EditState)

	rev, err := svc.DecideEdit(context.Background(), doc.ID, 5, true, "go ahead")
	require.NoError(t, err)
	require.NotZero(t, rev.ReversalID)
	require.Equal(t, StatusDraft, tx.docRepo.docs[doc.ID].Status)
	require.Equal(t, EditNone, tx.docRepo.docs[doc.ID].EditState)
	require.InDelta(t, 0, supplierBalance(tx), 0.001)

	in := billInput()
	in.Lines[0].UnitPrice = 6
	in.Lines[0].Amount = 120
	in.Lines[0].TaxAmount = 6
	_, err = svc.Update(context.Background(), doc.ID, 3, in)
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))
	_, err = svc.Approve(context.Background(), doc.ID, 5, posting.Options{InventoryEnabled: true})
	require.NoError(t, err)

	// Only the second version is live: balance matches the new totals and
	// exactly one journal is active for the document.
	require.InDelta(t, -126, supplierBalance(tx), 0.001)
	events, err := tx.eventRepo.ListEvents(context.Background(), "BILL", doc.ID)
	require.NoError(t, err)
	_, active := posting.ActiveJournal(events)
	require.True(t, active)
	require.Len(t, events, 3)

	require.Equal(t, []shared.ApprovalAction{
		shared.ApprovalSubmit, shared.ApprovalApprove,
		shared.ApprovalRequestEdit, shared.ApprovalApproveEdit,
		shared.ApprovalSubmit, shared.ApprovalApprove,
	}, approvals.actions)
}

func TestRejectEditKeepsDocumentPosted(t *testing.T) {
	svc, tx, _ := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))
	_, err = svc.Approve(context.Background(), doc.ID, 5, posting.Options{})
	require.NoError(t, err)
	require.NoError(t, svc.RequestEdit(context.Background(), doc.ID, 3, ""))

	_, err = svc.DecideEdit(context.Background(), doc.ID, 5, false, "no")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, tx.docRepo.docs[doc.ID].Status)
	require.Equal(t, EditNone, tx.docRepo.docs[doc.ID].EditState)
	require.InDelta(t, -105, supplierBalance(tx), 0.001)
}

func TestCancelReversesAndRetires(t *testing.T) {
	svc, tx, _ := newTestService()

	doc, err := svc.Create(context.Background(), billInput())
	require.NoError(t, err)
	require.NoError(t, svc.Submit(context.Background(), doc.ID, 3))
	_, err = svc.Approve(context.Background(), doc.ID, 5, posting.Options{InventoryEnabled: true})
	require.NoError(t, err)

	rev, err := svc.Cancel(context.Background(), doc.ID, 5, "duplicate")
	require.NoError(t, err)
	require.NotZero(t, rev.ReversalID)
	require.Equal(t, StatusCancelled, tx.docRepo.docs[doc.ID].Status)
	require.InDelta(t, 0, supplierBalance(tx), 0.001)

	// Cancelled documents are final.
	require.ErrorIs(t, svc.Submit(context.Background(), doc.ID, 3), ErrInvalidStateTransition)
}
