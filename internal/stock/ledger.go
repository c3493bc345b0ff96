package stock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Service implements the stock ledger: append-only movements over
// per-lot batches carrying a weighted-average unit cost.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService constructs the stock Service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Deposit records an inflow in its own transaction.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (Movement, error) {
	var m Movement
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		m, err = s.DepositTx(ctx, NewTx(tx), in)
		return err
	})
	return m, err
}

// DepositTx records an inflow inside the caller's transaction. The batch
// is created on first inflow for the lot; otherwise its quantity grows and
// its unit cost is re-averaged over old and new stock.
func (s *Service) DepositTx(ctx context.Context, repo TxRepository, in DepositInput) (Movement, error) {
	if in.Qty <= 0 {
		return Movement{}, ErrInvalidQty
	}
	if in.UnitCost < 0 {
		return Movement{}, fmt.Errorf("%w: negative unit cost", ErrInvalidQty)
	}
	batch, err := repo.GetBatchForUpdate(ctx, in.CompanyID, in.ProductID, in.WarehouseID, in.LotCode)
	switch err {
	case nil:
		newQty := batch.Qty + in.Qty
		newCost := (batch.Qty*batch.UnitCost + in.Qty*in.UnitCost) / newQty
		if err := repo.UpdateBatch(ctx, batch.ID, newQty, newCost); err != nil {
			return Movement{}, err
		}
	case ErrBatchNotFound:
		batch = Batch{
			CompanyID:   in.CompanyID,
			ProductID:   in.ProductID,
			WarehouseID: in.WarehouseID,
			LotCode:     in.LotCode,
			Qty:         in.Qty,
			UnitCost:    in.UnitCost,
			ExpiryDate:  in.ExpiryDate,
		}
		batch.ID, err = repo.InsertBatch(ctx, batch)
		if err != nil {
			return Movement{}, err
		}
	default:
		return Movement{}, err
	}

	m := Movement{
		CompanyID:     in.CompanyID,
		BatchID:       batch.ID,
		ProductID:     in.ProductID,
		WarehouseID:   in.WarehouseID,
		Type:          MovementIn,
		Qty:           in.Qty,
		UnitCost:      in.UnitCost,
		DocType:       in.DocType,
		DocID:         in.DocID,
		CorrelationID: in.CorrelationID,
	}
	m.ID, err = repo.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

// WithdrawTx removes quantity from one lot inside the caller's transaction.
// Availability is re-checked under the row lock so a plan computed earlier
// in the transaction cannot oversell the lot. The batch cost never changes
// on the way out; the movement captures the cost at withdrawal time.
func (s *Service) WithdrawTx(ctx context.Context, repo TxRepository, in WithdrawInput) (Movement, error) {
	if in.Qty <= 0 {
		return Movement{}, ErrInvalidQty
	}
	movType := in.Type
	if movType == "" {
		movType = MovementOut
	}
	batch, err := repo.GetBatchForUpdate(ctx, in.CompanyID, in.ProductID, in.WarehouseID, in.LotCode)
	if err != nil {
		return Movement{}, err
	}
	if batch.Qty+qtyTolerance < in.Qty {
		return Movement{}, InsufficientError(in.ProductID, in.Qty, batch.Qty)
	}
	if AffectsOnHand(movType) {
		if err := repo.UpdateBatch(ctx, batch.ID, batch.Qty-in.Qty, batch.UnitCost); err != nil {
			return Movement{}, err
		}
	}
	m := Movement{
		CompanyID:     in.CompanyID,
		BatchID:       batch.ID,
		ProductID:     in.ProductID,
		WarehouseID:   in.WarehouseID,
		Type:          movType,
		Qty:           in.Qty,
		UnitCost:      batch.UnitCost,
		DocType:       in.DocType,
		DocID:         in.DocID,
		CorrelationID: in.CorrelationID,
	}
	m.ID, err = repo.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

// AllocateTx plans a withdrawal across the product's lots under the policy
// and executes it lot by lot. The returned allocations carry per-lot cost
// for downstream COGS lines.
func (s *Service) AllocateTx(ctx context.Context, repo TxRepository, in WithdrawInput, policy AllocationPolicy) ([]Allocation, error) {
	lots, err := repo.ListCandidateLots(ctx, in.CompanyID, in.ProductID, in.WarehouseID)
	if err != nil {
		return nil, err
	}
	plan, err := PlanAllocation(lots, in.Qty, policy)
	if err != nil {
		return nil, err
	}
	for _, a := range plan {
		part := in
		part.LotCode = a.LotCode
		part.Qty = a.Qty
		if _, err := s.WithdrawTx(ctx, repo, part); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// ReverseDocumentMovementsTx undoes every live movement a document produced.
// Outflows are restored fully. Inflows are removed only up to what the lot
// still holds; the shortfall is reported, logged, and never blocks the
// reversal. Both the original movement and its mirror are voided so the sum
// of live movements keeps matching batch quantities.
func (s *Service) ReverseDocumentMovementsTx(ctx context.Context, repo TxRepository, docType string, docID int64, correlationID string) (ReversalSummary, error) {
	movements, err := repo.ListDocumentMovements(ctx, docType, docID)
	if err != nil {
		return ReversalSummary{}, err
	}
	var summary ReversalSummary
	for _, m := range movements {
		reversed, lot, err := s.reverseMovementTx(ctx, repo, m, correlationID)
		if err != nil {
			return ReversalSummary{}, err
		}
		summary.Reversed++
		if reversed+qtyTolerance < m.Qty && m.Type.IsInbound() && AffectsOnHand(m.Type) {
			summary.Partial = append(summary.Partial, PartialReversal{
				LotCode:      lot,
				RequestedQty: m.Qty,
				ReversedQty:  reversed,
			})
			s.logger.Warn("partial stock reversal",
				slog.String("doc_type", docType),
				slog.Int64("doc_id", docID),
				slog.String("lot", lot),
				slog.Float64("requested", m.Qty),
				slog.Float64("reversed", reversed))
		}
	}
	return summary, nil
}

func (s *Service) reverseMovementTx(ctx context.Context, repo TxRepository, m Movement, correlationID string) (float64, string, error) {
	batch, err := repo.GetBatchByIDForUpdate(ctx, m.BatchID)
	if err != nil {
		return 0, "", err
	}

	mirror := Movement{
		CompanyID:     m.CompanyID,
		BatchID:       m.BatchID,
		ProductID:     m.ProductID,
		WarehouseID:   m.WarehouseID,
		Qty:           m.Qty,
		UnitCost:      m.UnitCost,
		DocType:       m.DocType,
		DocID:         m.DocID,
		CorrelationID: correlationID,
		Voided:        true,
	}

	reversed := m.Qty
	switch {
	case !AffectsOnHand(m.Type):
		mirror.Type = MovementReversalOut
	case m.Type.IsInbound():
		// Removing a past inflow can only take what the lot still holds.
		mirror.Type = MovementReversalOut
		if batch.Qty < reversed {
			reversed = batch.Qty
		}
		mirror.Qty = reversed
		if reversed > 0 {
			if err := repo.UpdateBatch(ctx, batch.ID, batch.Qty-reversed, batch.UnitCost); err != nil {
				return 0, "", err
			}
		}
	default:
		// Restoring a past outflow re-averages the cost like a deposit.
		mirror.Type = MovementReversalIn
		newQty := batch.Qty + m.Qty
		newCost := batch.UnitCost
		if newQty > 0 {
			newCost = (batch.Qty*batch.UnitCost + m.Qty*m.UnitCost) / newQty
		}
		if err := repo.UpdateBatch(ctx, batch.ID, newQty, newCost); err != nil {
			return 0, "", err
		}
	}

	if _, err := repo.InsertMovement(ctx, mirror); err != nil {
		return 0, "", err
	}
	if err := repo.VoidMovement(ctx, m.ID); err != nil {
		return 0, "", err
	}
	return reversed, batch.LotCode, nil
}
