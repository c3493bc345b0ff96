package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// BalancesRebuilder runs full balance recomputations in the background.
type BalancesRebuilder struct {
	pool   *pgxpool.Pool
	svc    *ledger.Service
	logger *slog.Logger
}

// NewBalancesRebuilder constructs the rebuild job handler.
func NewBalancesRebuilder(pool *pgxpool.Pool, svc *ledger.Service, logger *slog.Logger) *BalancesRebuilder {
	return &BalancesRebuilder{pool: pool, svc: svc, logger: logger}
}

// Handle processes TaskBalancesRebuild tasks, fanning out across companies.
func (b *BalancesRebuilder) Handle(ctx context.Context, t *asynq.Task) error {
	var payload BalancesRebuildPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	companies := payload.CompanyIDs
	if len(companies) == 0 {
		var err error
		companies, err = b.listCompanies(ctx)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, companyID := range companies {
		g.Go(func() error {
			return b.svc.RebuildEntityBalances(ctx, companyID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.logger.Info("balance rebuild finished", slog.Int("companies", len(companies)))
	return nil
}

func (b *BalancesRebuilder) listCompanies(ctx context.Context) ([]int64, error) {
	rows, err := b.pool.Query(ctx, `SELECT DISTINCT company_id FROM journal_entries ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
