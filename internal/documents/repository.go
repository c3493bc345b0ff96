package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// TxRepository is the transactional persistence port for documents.
type TxRepository interface {
	GetDocumentForUpdate(ctx context.Context, id int64) (Document, error)
	InsertDocument(ctx context.Context, d Document) (int64, error)
	InsertLine(ctx context.Context, l Line) (int64, error)
	UpdateDocument(ctx context.Context, d Document) error
	DeleteLines(ctx context.Context, documentID int64) error
	SetNumber(ctx context.Context, id int64, number string) error
	SetStatus(ctx context.Context, id int64, status Status) error
	SetEditState(ctx context.Context, id int64, state EditState) error
}

// Tx is the unit of work an approval or reversal runs in: document state,
// stock movements, journal entries and posting events all ride the same
// database transaction.
type Tx interface {
	posting.Tx
	Documents() TxRepository
}

type pgUnit struct {
	tx pgx.Tx
}

// NewUnit wraps a transaction as the full posting unit of work.
func NewUnit(tx pgx.Tx) Tx {
	return pgUnit{tx: tx}
}

func (u pgUnit) Stock() stock.TxRepository       { return stock.NewTx(u.tx) }
func (u pgUnit) Ledger() ledger.TxRepository     { return ledger.NewTx(u.tx) }
func (u pgUnit) Events() posting.EventRepository { return posting.NewEventTx(u.tx) }
func (u pgUnit) Documents() TxRepository         { return &txRepo{tx: u.tx} }

type txRepo struct {
	tx pgx.Tx
}

const documentColumns = `id, external_id, company_id, kind, number, entity_id, warehouse_id, currency, rate, doc_date, memo, status, edit_state, subtotal, tax_total, grand_total, created_by, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var kind, status, editState string
	err := row.Scan(&d.ID, &d.ExternalID, &d.CompanyID, &kind, &d.Number, &d.EntityID, &d.WarehouseID, &d.Currency, &d.Rate,
		&d.DocDate, &d.Memo, &status, &editState, &d.Subtotal, &d.TaxTotal, &d.GrandTotal,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	d.Kind = posting.DocKind(kind)
	d.Status = Status(status)
	d.EditState = EditState(editState)
	return d, nil
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.ProductID, &l.AccountID, &l.Description,
			&l.Qty, &l.UnitPrice, &l.Amount, &l.TaxAmount, &l.LotCode, &l.ExpiryDate); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

const lineColumns = `id, document_id, product_id, account_id, description, qty, unit_price, amount, tax_amount, lot_code, expiry_date`

func (r *txRepo) GetDocumentForUpdate(ctx context.Context, id int64) (Document, error) {
	d, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Document{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE document_id=$1 ORDER BY id`, id)
	if err != nil {
		return Document{}, err
	}
	d.Lines, err = scanLines(rows)
	return d, err
}

func (r *txRepo) InsertDocument(ctx context.Context, d Document) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO documents
(external_id, company_id, kind, number, entity_id, warehouse_id, currency, rate, doc_date, memo, status, edit_state, subtotal, tax_total, grand_total, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
RETURNING id`,
		d.ExternalID, d.CompanyID, string(d.Kind), d.Number, d.EntityID, d.WarehouseID, d.Currency, d.Rate, d.DocDate, d.Memo,
		string(d.Status), string(d.EditState), d.Subtotal, d.TaxTotal, d.GrandTotal, d.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO document_lines
(document_id, product_id, account_id, description, qty, unit_price, amount, tax_amount, lot_code, expiry_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`, l.DocumentID, l.ProductID, l.AccountID, l.Description, l.Qty, l.UnitPrice, l.Amount, l.TaxAmount, l.LotCode, l.ExpiryDate).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateDocument(ctx context.Context, d Document) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents
SET entity_id=$2, warehouse_id=$3, currency=$4, rate=$5, doc_date=$6, memo=$7, subtotal=$8, tax_total=$9, grand_total=$10, updated_at=NOW()
WHERE id=$1`, d.ID, d.EntityID, d.WarehouseID, d.Currency, d.Rate, d.DocDate, d.Memo, d.Subtotal, d.TaxTotal, d.GrandTotal)
	return err
}

func (r *txRepo) DeleteLines(ctx context.Context, documentID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, documentID)
	return err
}

func (r *txRepo) SetNumber(ctx context.Context, id int64, number string) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents SET number=$2, updated_at=NOW() WHERE id=$1`, id, number)
	return err
}

func (r *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepo) SetEditState(ctx context.Context, id int64, state EditState) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents SET edit_state=$2, updated_at=NOW() WHERE id=$1`, id, string(state))
	return err
}

// Repository serves reads outside the posting transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a read Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a document with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Document, error) {
	d, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		return Document{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE document_id=$1 ORDER BY id`, id)
	if err != nil {
		return Document{}, err
	}
	d.Lines, err = scanLines(rows)
	return d, err
}

// List returns company documents newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, companyID int64, status Status, limit, offset int) ([]Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE company_id=$1`
	args := []any{companyID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
