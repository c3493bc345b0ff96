package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// TxRepository is the transactional persistence port for journal data.
type TxRepository interface {
	NextNumber(ctx context.Context, companyID int64, year int) (int64, error)
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	InsertLine(ctx context.Context, l Line) (int64, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	MarkReversed(ctx context.Context, id, reversalID int64) error
	UpsertEntityBalanceDelta(ctx context.Context, companyID int64, entityType EntityType, entityID int64, delta float64) error
	DeleteEntityBalances(ctx context.Context, companyID int64) error
	RecomputeEntityBalances(ctx context.Context, companyID int64) error
	GetEntityBalance(ctx context.Context, companyID int64, entityType EntityType, entityID int64) (EntityBalance, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTx wraps a transaction as a TxRepository.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// NextNumber serialises numbering through the per-company counter row.
// Concurrent posters block on the row lock and each sees a distinct value.
func (r *txRepo) NextNumber(ctx context.Context, companyID int64, year int) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `UPDATE journal_counters
SET last_number = last_number + 1
WHERE company_id=$1 AND year=$2
RETURNING last_number`, companyID, year).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.tx.QueryRow(ctx, `INSERT INTO journal_counters (company_id, year, last_number)
VALUES ($1, $2, 1)
ON CONFLICT (company_id, year) DO UPDATE SET last_number = journal_counters.last_number + 1
RETURNING last_number`, companyID, year).Scan(&n)
	}
	return n, err
}

func (r *txRepo) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(company_id, number, entry_date, memo, doc_type, doc_id, currency, rate, foreign_amount, base_amount, reverses_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
RETURNING id`, e.CompanyID, e.Number, e.EntryDate, e.Memo, e.DocType, e.DocID, e.Currency, e.Rate, e.ForeignAmount, e.BaseAmount, e.ReversesID, e.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	var entityType *string
	if l.EntityType != nil {
		s := string(*l.EntityType)
		entityType = &s
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines
(entry_id, account_id, debit, credit, entity_type, entity_id, memo)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, l.EntryID, l.AccountID, l.Debit, l.Credit, entityType, l.EntityID, l.Memo).Scan(&id)
	return id, err
}

func (r *txRepo) GetEntry(ctx context.Context, id int64) (Entry, error) {
	var e Entry
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, number, entry_date, memo, doc_type, doc_id, currency, rate, foreign_amount, base_amount, reverses_id, reversed_by, created_by, created_at
FROM journal_entries WHERE id=$1`, id).
		Scan(&e.ID, &e.CompanyID, &e.Number, &e.EntryDate, &e.Memo, &e.DocType, &e.DocID, &e.Currency, &e.Rate, &e.ForeignAmount, &e.BaseAmount, &e.ReversesID, &e.ReversedBy, &e.CreatedBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, entity_type, entity_id, memo
FROM journal_lines WHERE entry_id=$1 ORDER BY id`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		var entityType *string
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit, &entityType, &l.EntityID, &l.Memo); err != nil {
			return Entry{}, err
		}
		if entityType != nil {
			t := EntityType(*entityType)
			l.EntityType = &t
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

func (r *txRepo) MarkReversed(ctx context.Context, id, reversalID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE journal_entries SET reversed_by=$2 WHERE id=$1`, id, reversalID)
	return err
}

func (r *txRepo) UpsertEntityBalanceDelta(ctx context.Context, companyID int64, entityType EntityType, entityID int64, delta float64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO entity_balances (company_id, entity_type, entity_id, balance, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (company_id, entity_type, entity_id)
DO UPDATE SET balance = entity_balances.balance + EXCLUDED.balance, updated_at = NOW()`,
		companyID, string(entityType), entityID, delta)
	return err
}

func (r *txRepo) DeleteEntityBalances(ctx context.Context, companyID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM entity_balances WHERE company_id=$1`, companyID)
	return err
}

// RecomputeEntityBalances rebuilds the cache table from journal lines.
func (r *txRepo) RecomputeEntityBalances(ctx context.Context, companyID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO entity_balances (company_id, entity_type, entity_id, balance, updated_at)
SELECT e.company_id,
       l.entity_type,
       l.entity_id,
       SUM(l.debit - l.credit),
       NOW()
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.company_id = $1 AND l.entity_type IS NOT NULL AND l.entity_id IS NOT NULL
GROUP BY e.company_id, l.entity_type, l.entity_id
ON CONFLICT (company_id, entity_type, entity_id)
DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`, companyID)
	return err
}

func (r *txRepo) GetEntityBalance(ctx context.Context, companyID int64, entityType EntityType, entityID int64) (EntityBalance, error) {
	var b EntityBalance
	var typ string
	err := r.tx.QueryRow(ctx, `SELECT company_id, entity_type, entity_id, balance, updated_at
FROM entity_balances WHERE company_id=$1 AND entity_type=$2 AND entity_id=$3`,
		companyID, string(entityType), entityID).
		Scan(&b.CompanyID, &typ, &b.EntityID, &b.Balance, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return EntityBalance{CompanyID: companyID, EntityType: entityType, EntityID: entityID}, nil
	}
	if err != nil {
		return EntityBalance{}, err
	}
	b.EntityType = EntityType(typ)
	return b, nil
}
