package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/refdata"
)

// AccountLookup resolves accounts for entity-requirement checks.
type AccountLookup interface {
	GetAccount(ctx context.Context, id int64) (refdata.Account, error)
}

// Service posts and reverses journal entries and maintains the entity
// balance cache alongside them.
type Service struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	accounts AccountLookup
	cache    *BalanceCache
	metrics  *observability.Metrics
}

// NewService constructs the journal Service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger, accounts AccountLookup, cache *BalanceCache, metrics *observability.Metrics) *Service {
	return &Service{pool: pool, logger: logger, accounts: accounts, cache: cache, metrics: metrics}
}

// Post validates and persists an entry in its own transaction, then
// invalidates cached balances for the company.
func (s *Service) Post(ctx context.Context, in PostingInput) (Entry, error) {
	var entry Entry
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		entry, err = s.PostTx(ctx, NewTx(tx), in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.cache.Invalidate(ctx, in.CompanyID)
	return entry, nil
}

// PostTx validates and persists an entry inside the caller's transaction.
// Entity balances are updated in the same transaction so the cache table
// can never drift from posted lines. Cache invalidation is the caller's
// job once the transaction commits.
func (s *Service) PostTx(ctx context.Context, repo TxRepository, in PostingInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	lines := in.BaseLines()
	for i, l := range lines {
		account, err := s.accounts.GetAccount(ctx, l.AccountID)
		if err != nil {
			return Entry{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		if account.RequiresEntity && (l.EntityType == nil || l.EntityID == nil) {
			return Entry{}, fmt.Errorf("%w: line %d account %s", ErrMissingEntity, i+1, account.Code)
		}
	}

	number, err := repo.NextNumber(ctx, in.CompanyID, in.EntryDate.Year())
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		CompanyID:     in.CompanyID,
		Number:        fmt.Sprintf("JV-%d-%06d", in.EntryDate.Year(), number),
		EntryDate:     in.EntryDate,
		Memo:          in.Memo,
		DocType:       in.DocType,
		DocID:         in.DocID,
		Currency:      in.Currency,
		Rate:          in.Rate,
		ForeignAmount: in.ForeignAmount,
		BaseAmount:    in.BaseAmount,
		CreatedBy:     in.CreatedBy,
	}
	entry.ID, err = repo.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	for i := range lines {
		lines[i].EntryID = entry.ID
		lines[i].ID, err = repo.InsertLine(ctx, lines[i])
		if err != nil {
			return Entry{}, err
		}
	}
	entry.Lines = lines

	if err := s.applyBalanceDeltas(ctx, repo, entry, 1); err != nil {
		return Entry{}, err
	}
	s.metrics.JournalPosted()
	s.logger.Info("journal posted",
		slog.String("number", entry.Number),
		slog.Int64("company_id", entry.CompanyID),
		slog.String("doc_type", entry.DocType),
		slog.Int64("doc_id", entry.DocID))
	return entry, nil
}

// Reverse posts the mirror of an entry in its own transaction.
func (s *Service) Reverse(ctx context.Context, entryID, actorID int64) (Entry, error) {
	var reversal Entry
	var companyID int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		reversal, err = s.ReverseTx(ctx, NewTx(tx), entryID, actorID)
		companyID = reversal.CompanyID
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.cache.Invalidate(ctx, companyID)
	return reversal, nil
}

// ReverseTx posts a new entry mirroring the original: every debit becomes
// a credit and vice versa, the memo gains a "Reversal:" prefix, and the
// original is linked to its reversal. The original lines are never touched.
func (s *Service) ReverseTx(ctx context.Context, repo TxRepository, entryID, actorID int64) (Entry, error) {
	original, err := repo.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if original.ReversedBy != nil {
		return Entry{}, fmt.Errorf("%w: entry %s", ErrAlreadyReversed, original.Number)
	}

	number, err := repo.NextNumber(ctx, original.CompanyID, original.EntryDate.Year())
	if err != nil {
		return Entry{}, err
	}
	reversal := Entry{
		CompanyID:     original.CompanyID,
		Number:        fmt.Sprintf("JV-%d-%06d", original.EntryDate.Year(), number),
		EntryDate:     original.EntryDate,
		Memo:          "Reversal: " + original.Memo,
		DocType:       original.DocType,
		DocID:         original.DocID,
		Currency:      original.Currency,
		Rate:          original.Rate,
		ForeignAmount: original.ForeignAmount,
		BaseAmount:    original.BaseAmount,
		ReversesID:    &original.ID,
		CreatedBy:     actorID,
	}
	reversal.ID, err = repo.InsertEntry(ctx, reversal)
	if err != nil {
		return Entry{}, err
	}
	for _, l := range original.Lines {
		memo := l.Memo
		if memo != "" {
			memo = "Reversal: " + memo
		}
		mirror := Line{
			EntryID:    reversal.ID,
			AccountID:  l.AccountID,
			Debit:      l.Credit,
			Credit:     l.Debit,
			EntityType: l.EntityType,
			EntityID:   l.EntityID,
			Memo:       memo,
		}
		mirror.ID, err = repo.InsertLine(ctx, mirror)
		if err != nil {
			return Entry{}, err
		}
		reversal.Lines = append(reversal.Lines, mirror)
	}
	if err := repo.MarkReversed(ctx, original.ID, reversal.ID); err != nil {
		return Entry{}, err
	}
	if err := s.applyBalanceDeltas(ctx, repo, reversal, 1); err != nil {
		return Entry{}, err
	}
	s.metrics.JournalReversed()
	s.logger.Info("journal reversed",
		slog.String("number", original.Number),
		slog.String("reversal_number", reversal.Number))
	return reversal, nil
}

func (s *Service) applyBalanceDeltas(ctx context.Context, repo TxRepository, entry Entry, sign float64) error {
	for _, l := range entry.Lines {
		if l.EntityType == nil || l.EntityID == nil {
			continue
		}
		delta := sign * entityDelta(*l.EntityType, l.Debit, l.Credit)
		if delta == 0 {
			continue
		}
		if err := repo.UpsertEntityBalanceDelta(ctx, entry.CompanyID, *l.EntityType, *l.EntityID, delta); err != nil {
			return err
		}
	}
	return nil
}

// GetEntityBalance serves the counterparty balance through the Redis cache,
// falling back to the cache table on a miss.
func (s *Service) GetEntityBalance(ctx context.Context, companyID int64, entityType EntityType, entityID int64) (EntityBalance, error) {
	if b, ok := s.cache.Get(ctx, companyID, entityType, entityID); ok {
		return b, nil
	}
	var b EntityBalance
	var typ string
	err := s.pool.QueryRow(ctx, `SELECT company_id, entity_type, entity_id, balance, updated_at
FROM entity_balances WHERE company_id=$1 AND entity_type=$2 AND entity_id=$3`,
		companyID, string(entityType), entityID).
		Scan(&b.CompanyID, &typ, &b.EntityID, &b.Balance, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return EntityBalance{CompanyID: companyID, EntityType: entityType, EntityID: entityID}, nil
		}
		return EntityBalance{}, err
	}
	b.EntityType = EntityType(typ)
	s.cache.Set(ctx, b)
	return b, nil
}

// ListJournals returns company journal headers newest first, optionally
// narrowed to one source document.
func (s *Service) ListJournals(ctx context.Context, companyID int64, docType string, docID int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, company_id, number, entry_date, memo, doc_type, doc_id, currency, rate, foreign_amount, base_amount, reverses_id, reversed_by, created_by, created_at
FROM journal_entries WHERE company_id=$1`
	args := []any{companyID}
	if docType != "" {
		query += ` AND doc_type=$2 AND doc_id=$3`
		args = append(args, docType, docID)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Number, &e.EntryDate, &e.Memo, &e.DocType, &e.DocID,
			&e.Currency, &e.Rate, &e.ForeignAmount, &e.BaseAmount, &e.ReversesID, &e.ReversedBy, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RebuildEntityBalances recomputes every counterparty balance for the
// company from journal lines, replacing the incremental state.
func (s *Service) RebuildEntityBalances(ctx context.Context, companyID int64) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		repo := NewTx(tx)
		if err := repo.DeleteEntityBalances(ctx, companyID); err != nil {
			return err
		}
		return repo.RecomputeEntityBalances(ctx, companyID)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, companyID)
	s.logger.Info("entity balances rebuilt", slog.Int64("company_id", companyID))
	return nil
}
