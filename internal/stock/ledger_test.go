package stock

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	nextBatchID    int64
	nextMovementID int64
	batches        map[int64]*Batch
	movements      []*Movement
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: map[int64]*Batch{}}
}

func (r *memoryRepo) GetBatchForUpdate(_ context.Context, companyID, productID, warehouseID int64, lotCode string) (Batch, error) {
	for _, b := range r.batches {
		if b.CompanyID == companyID && b.ProductID == productID && b.WarehouseID == warehouseID && b.LotCode == lotCode {
			return *b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (r *memoryRepo) GetBatchByIDForUpdate(_ context.Context, id int64) (Batch, error) {
	if b, ok := r.batches[id]; ok {
		return *b, nil
	}
	return Batch{}, ErrBatchNotFound
}

func (r *memoryRepo) InsertBatch(_ context.Context, b Batch) (int64, error) {
	r.nextBatchID++
	b.ID = r.nextBatchID
	b.ReceivedAt = time.Now()
	r.batches[b.ID] = &b
	return b.ID, nil
}

func (r *memoryRepo) UpdateBatch(_ context.Context, id int64, qty, unitCost float64) error {
	b, ok := r.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	b.Qty = qty
	b.UnitCost = unitCost
	return nil
}

func (r *memoryRepo) InsertMovement(_ context.Context, m Movement) (int64, error) {
	r.nextMovementID++
	m.ID = r.nextMovementID
	m.OccurredAt = time.Now()
	r.movements = append(r.movements, &m)
	return m.ID, nil
}

func (r *memoryRepo) ListDocumentMovements(_ context.Context, docType string, docID int64) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.DocType == docType && m.DocID == docID && !m.Voided {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memoryRepo) VoidMovement(_ context.Context, id int64) error {
	for _, m := range r.movements {
		if m.ID == id {
			m.Voided = true
			return nil
		}
	}
	return ErrBatchNotFound
}

func (r *memoryRepo) ListCandidateLots(_ context.Context, companyID, productID, warehouseID int64) ([]CandidateLot, error) {
	var lots []CandidateLot
	for _, b := range r.batches {
		if b.CompanyID == companyID && b.ProductID == productID && b.WarehouseID == warehouseID && b.Qty > 0 {
			lots = append(lots, CandidateLot{
				BatchID:       b.ID,
				LotCode:       b.LotCode,
				Available:     b.Qty,
				UnitCost:      b.UnitCost,
				FirstInflowAt: b.ReceivedAt,
				ExpiryDate:    b.ExpiryDate,
			})
		}
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].BatchID < lots[j].BatchID })
	return lots, nil
}

func newTestService() *Service {
	return NewService(nil, slog.Default())
}

func deposit(t *testing.T, svc *Service, repo TxRepository, lot string, qty, cost float64) Movement {
	t.Helper()
	m, err := svc.DepositTx(context.Background(), repo, DepositInput{
		CompanyID: 1, ProductID: 7, WarehouseID: 1, LotCode: lot,
		Qty: qty, UnitCost: cost, DocType: "BILL", DocID: 100,
	})
	require.NoError(t, err)
	return m
}

func TestDepositAveragesCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService()

	deposit(t, svc, repo, "L1", 10, 4)
	deposit(t, svc, repo, "L1", 10, 6)

	b, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "L1")
	require.NoError(t, err)
	require.InDelta(t, 20, b.Qty, 0.001)
	require.InDelta(t, 5, b.UnitCost, 0.001)
}

func TestWithdrawKeepsCostAndChecksAvailability(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService()
	deposit(t, svc, repo, "L1", 10, 5)

	m, err := svc.WithdrawTx(context.Background(), repo, WithdrawInput{
		CompanyID: 1, ProductID: 7, WarehouseID: 1, LotCode: "L1",
		Qty: 4, DocType: "INV", DocID: 200,
	})
	require.NoError(t, err)
	require.Equal(t, MovementOut, m.Type)
	require.InDelta(t, 5, m.UnitCost, 0.001)

	b, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "L1")
	require.NoError(t, err)
	require.InDelta(t, 6, b.Qty, 0.001)
	require.InDelta(t, 5, b.UnitCost, 0.001)

	_, err = svc.WithdrawTx(context.Background(), repo, WithdrawInput{
		CompanyID: 1, ProductID: 7, WarehouseID: 1, LotCode: "L1",
		Qty: 7, DocType: "INV", DocID: 201,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestInTransitLeavesBatchUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService()
	deposit(t, svc, repo, "L1", 10, 5)

	_, err := svc.WithdrawTx(context.Background(), repo, WithdrawInput{
		CompanyID: 1, ProductID: 7, WarehouseID: 1, LotCode: "L1",
		Qty: 3, Type: MovementInTransit, DocType: "XFER", DocID: 300,
	})
	require.NoError(t, err)

	b, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "L1")
	require.NoError(t, err)
	require.InDelta(t, 10, b.Qty, 0.001)
}

func TestAllocateTxDrainsLotsInOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService()
	deposit(t, svc, repo, "A", 10, 5)
	deposit(t, svc, repo, "B", 5, 8)

	plan, err := svc.AllocateTx(context.Background(), repo, WithdrawInput{
		CompanyID: 1, ProductID: 7, WarehouseID: 1,
		Qty: 12, DocType: "INV", DocID: 400,
	}, PolicyFIFO)
	require.NoError(t, err)
	require.Equal(t, []Allocation{
		{LotCode: "A", BatchID: 1, Qty: 10, UnitCost: 5},
		{LotCode: "B", BatchID: 2, Qty: 2, UnitCost: 8},
	}, plan)

	a, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "A")
	require.NoError(t, err)
	require.InDelta(t, 0, a.Qty, 0.001)
	b, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "B")
	require.NoError(t, err)
	require.InDelta(t, 3, b.Qty, 0.001)
}

func TestReverseDocumentRestoresOutflow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService()
	deposit(t, svc, repo, "L1", 10, 5)

	_, err := svc.WithdrawTx(context.Background(), repo, WithdrawInput{
		CompanyID: 1, ProductID: 7, WarehouseID: 1, LotCode: "L1",
		Qty: 4, DocType: "INV", DocID: 500,
	})
	require.NoError(t, err)

	summary, err := svc.ReverseDocumentMovementsTx(context.Background(), repo, "INV", 500, "corr-rev")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Reversed)
	require.Empty(t, summary.Partial)

	b, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "L1")
	require.NoError(t, err)
	require.InDelta(t, 10, b.Qty, 0.001)
	require.InDelta(t, 5, b.UnitCost, 0.001)
}

func TestReverseInflowIsBestEffort(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService()
	deposit(t, svc, repo, "L1", 10, 5)

	// Another document consumes most of the lot before the reversal.
	_, err := svc.WithdrawTx(context.Background(), repo, WithdrawInput{
		CompanyID: 1, ProductID: 7, WarehouseID: 1, LotCode: "L1",
		Qty: 7, DocType: "INV", DocID: 501,
	})
	require.NoError(t, err)

	summary, err := svc.ReverseDocumentMovementsTx(context.Background(), repo, "BILL", 100, "corr-rev")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Reversed)
	require.Len(t, summary.Partial, 1)
	require.Equal(t, "L1", summary.Partial[0].LotCode)
	require.InDelta(t, 10, summary.Partial[0].RequestedQty, 0.001)
	require.InDelta(t, 3, summary.Partial[0].ReversedQty, 0.001)

	b, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "L1")
	require.NoError(t, err)
	require.InDelta(t, 0, b.Qty, 0.001)
}

func TestReversalTombstonesMovements(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService()
	deposit(t, svc, repo, "L1", 10, 5)

	_, err := svc.ReverseDocumentMovementsTx(context.Background(), repo, "BILL", 100, "corr-rev")
	require.NoError(t, err)

	live, err := repo.ListDocumentMovements(context.Background(), "BILL", 100)
	require.NoError(t, err)
	require.Empty(t, live)

	// Live movement sums still reconstruct the batch quantity.
	var sum float64
	for _, m := range repo.movements {
		if m.Voided || !AffectsOnHand(m.Type) {
			continue
		}
		if m.Type.IsInbound() {
			sum += m.Qty
		} else {
			sum -= m.Qty
		}
	}
	b, err := repo.GetBatchForUpdate(context.Background(), 1, 7, 1, "L1")
	require.NoError(t, err)
	require.InDelta(t, b.Qty, sum, 0.001)
}
