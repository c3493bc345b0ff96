package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepository is the transactional persistence port for stock data.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, companyID, productID, warehouseID int64, lotCode string) (Batch, error)
	GetBatchByIDForUpdate(ctx context.Context, id int64) (Batch, error)
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	UpdateBatch(ctx context.Context, id int64, qty, unitCost float64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ListDocumentMovements(ctx context.Context, docType string, docID int64) ([]Movement, error)
	VoidMovement(ctx context.Context, id int64) error
	ListCandidateLots(ctx context.Context, companyID, productID, warehouseID int64) ([]CandidateLot, error)
}

// CandidateLot is a lot eligible for allocation, with ordering keys.
type CandidateLot struct {
	BatchID       int64
	LotCode       string
	Available     float64
	UnitCost      float64
	FirstInflowAt time.Time
	ExpiryDate    *time.Time
}

type txRepo struct {
	tx pgx.Tx
}

// NewTx wraps a transaction as a TxRepository.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, companyID, productID, warehouseID int64, lotCode string) (Batch, error) {
	var b Batch
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, product_id, warehouse_id, lot_code, qty, unit_cost, expiry_date, received_at, updated_at
FROM stock_batches
WHERE company_id=$1 AND product_id=$2 AND warehouse_id=$3 AND lot_code=$4
FOR UPDATE`, companyID, productID, warehouseID, lotCode).
		Scan(&b.ID, &b.CompanyID, &b.ProductID, &b.WarehouseID, &b.LotCode, &b.Qty, &b.UnitCost, &b.ExpiryDate, &b.ReceivedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

func (r *txRepo) GetBatchByIDForUpdate(ctx context.Context, id int64) (Batch, error) {
	var b Batch
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, product_id, warehouse_id, lot_code, qty, unit_cost, expiry_date, received_at, updated_at
FROM stock_batches WHERE id=$1 FOR UPDATE`, id).
		Scan(&b.ID, &b.CompanyID, &b.ProductID, &b.WarehouseID, &b.LotCode, &b.Qty, &b.UnitCost, &b.ExpiryDate, &b.ReceivedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (company_id, product_id, warehouse_id, lot_code, qty, unit_cost, expiry_date, received_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
RETURNING id`, b.CompanyID, b.ProductID, b.WarehouseID, b.LotCode, b.Qty, b.UnitCost, b.ExpiryDate).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateBatch(ctx context.Context, id int64, qty, unitCost float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_batches SET qty=$2, unit_cost=$3, updated_at=NOW() WHERE id=$1`, id, qty, unitCost)
	return err
}

const movementColumns = `id, company_id, batch_id, product_id, warehouse_id, type, qty, unit_cost, doc_type, doc_id, correlation_id, voided, occurred_at`

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (company_id, batch_id, product_id, warehouse_id, type, qty, unit_cost, doc_type, doc_id, correlation_id, voided, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
RETURNING id`, m.CompanyID, m.BatchID, m.ProductID, m.WarehouseID, string(m.Type), m.Qty, m.UnitCost, m.DocType, m.DocID, m.CorrelationID, m.Voided).Scan(&id)
	return id, err
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		var typ string
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.BatchID, &m.ProductID, &m.WarehouseID, &typ, &m.Qty, &m.UnitCost, &m.DocType, &m.DocID, &m.CorrelationID, &m.Voided, &m.OccurredAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepo) ListDocumentMovements(ctx context.Context, docType string, docID int64) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE doc_type=$1 AND doc_id=$2 AND voided=FALSE
ORDER BY id`, docType, docID)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

func (r *txRepo) VoidMovement(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_movements SET voided=TRUE WHERE id=$1`, id)
	return err
}

const candidateLotQuery = `SELECT id, lot_code, qty, unit_cost, received_at, expiry_date
FROM stock_batches
WHERE company_id=$1 AND product_id=$2 AND warehouse_id=$3 AND qty > 0
ORDER BY id`

func scanCandidateLots(rows pgx.Rows) ([]CandidateLot, error) {
	defer rows.Close()
	var lots []CandidateLot
	for rows.Next() {
		var l CandidateLot
		if err := rows.Scan(&l.BatchID, &l.LotCode, &l.Available, &l.UnitCost, &l.FirstInflowAt, &l.ExpiryDate); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (r *txRepo) ListCandidateLots(ctx context.Context, companyID, productID, warehouseID int64) ([]CandidateLot, error) {
	rows, err := r.tx.Query(ctx, candidateLotQuery, companyID, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return scanCandidateLots(rows)
}

// Repository serves stock reads outside a posting transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a read Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListBatches returns the product's lots in a warehouse, including zeroed ones.
func (r *Repository) ListBatches(ctx context.Context, companyID, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, product_id, warehouse_id, lot_code, qty, unit_cost, expiry_date, received_at, updated_at
FROM stock_batches
WHERE company_id=$1 AND product_id=$2 AND warehouse_id=$3
ORDER BY id`, companyID, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.CompanyID, &b.ProductID, &b.WarehouseID, &b.LotCode, &b.Qty, &b.UnitCost, &b.ExpiryDate, &b.ReceivedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListMovements returns the product's movement history newest first, voided
// rows included so the card shows the full audit trail.
func (r *Repository) ListMovements(ctx context.Context, companyID, productID, warehouseID int64, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE company_id=$1 AND product_id=$2 AND warehouse_id=$3
ORDER BY id DESC
LIMIT $4`, companyID, productID, warehouseID, limit)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

// ListCandidateLots reads allocation candidates without row locks, for
// plan-only previews.
func (r *Repository) ListCandidateLots(ctx context.Context, companyID, productID, warehouseID int64) ([]CandidateLot, error) {
	rows, err := r.pool.Query(ctx, candidateLotQuery, companyID, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return scanCandidateLots(rows)
}
