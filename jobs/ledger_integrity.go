package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// LedgerIntegrityChecker sweeps posted entries for drifted debit and credit
// sums. It only reports; repairing an unbalanced entry is a manual job.
type LedgerIntegrityChecker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLedgerIntegrityChecker constructs the integrity job handler.
func NewLedgerIntegrityChecker(pool *pgxpool.Pool, logger *slog.Logger) *LedgerIntegrityChecker {
	return &LedgerIntegrityChecker{pool: pool, logger: logger}
}

// Handle processes TaskLedgerIntegrity tasks.
func (c *LedgerIntegrityChecker) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	query := `SELECT e.id, e.number, SUM(l.debit) AS debits, SUM(l.credit) AS credits
FROM journal_entries e
JOIN journal_lines l ON l.entry_id = e.id
WHERE ($1 = 0 OR e.company_id = $1)
GROUP BY e.id, e.number
HAVING ABS(SUM(l.debit) - SUM(l.credit)) > 0.01`
	rows, err := c.pool.Query(ctx, query, payload.CompanyID)
	if err != nil {
		return err
	}
	defer rows.Close()

	printer := message.NewPrinter(language.English)
	var drifted int
	for rows.Next() {
		var id int64
		var number string
		var debits, credits float64
		if err := rows.Scan(&id, &number, &debits, &credits); err != nil {
			return err
		}
		drifted++
		c.logger.Error("unbalanced journal entry",
			slog.Int64("entry_id", id),
			slog.String("number", number),
			slog.String("debits", printer.Sprintf("%.2f", debits)),
			slog.String("credits", printer.Sprintf("%.2f", credits)))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if drifted == 0 {
		c.logger.Info("ledger integrity check passed", slog.Int64("company_id", payload.CompanyID))
	} else {
		c.logger.Warn("ledger integrity check found drift",
			slog.Int64("company_id", payload.CompanyID),
			slog.String("entries", printer.Sprintf("%d", drifted)))
	}
	return nil
}
