package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBalancesRebuild recomputes entity balances from journal lines.
	TaskBalancesRebuild = "ledger:balances:rebuild"
	// TaskLedgerIntegrity verifies every posted entry still balances.
	TaskLedgerIntegrity = "ledger:integrity"
)

// BalancesRebuildPayload selects the companies to rebuild. Empty means all.
type BalancesRebuildPayload struct {
	CompanyIDs []int64 `json:"company_ids"`
}

// NewBalancesRebuildTask constructs an Asynq task.
func NewBalancesRebuildTask(payload BalancesRebuildPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalancesRebuild, data), nil
}

// LedgerIntegrityPayload scopes the integrity sweep to one company, or all
// companies when zero.
type LedgerIntegrityPayload struct {
	CompanyID int64 `json:"company_id"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}
