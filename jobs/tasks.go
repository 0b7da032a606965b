package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity checks that every posted journal balances and the trial
	// balance of each organization balances.
	TaskGLIntegrity = "books:gl_integrity"
	// TaskCOASync backfills chart of accounts rows for every ledger.
	TaskCOASync = "books:coa_sync"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "books:idempotency_cleanup"
)

// OrgPayload scopes a job to some organizations. Empty means all of them.
type OrgPayload struct {
	OrgIDs []int64 `json:"org_ids,omitempty"`
}

// CleanupPayload configures TaskIdempotencyCleanup.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewGLIntegrityTask constructs the integrity check task.
func NewGLIntegrityTask(orgIDs ...int64) (*asynq.Task, error) {
	return newOrgTask(TaskGLIntegrity, orgIDs)
}

// NewCOASyncTask constructs the chart of accounts backfill task.
func NewCOASyncTask(orgIDs ...int64) (*asynq.Task, error) {
	return newOrgTask(TaskCOASync, orgIDs)
}

// NewIdempotencyCleanupTask constructs the idempotency key cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

func newOrgTask(typ string, orgIDs []int64) (*asynq.Task, error) {
	data, err := json.Marshal(OrgPayload{OrgIDs: orgIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data), nil
}

func decodeOrgPayload(t *asynq.Task) (OrgPayload, error) {
	var payload OrgPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
