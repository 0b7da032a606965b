package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

// AuditTrail keeps audit rows in memory.
type AuditTrail struct {
	mu   sync.Mutex
	logs []internalShared.AuditLog
}

func (a *AuditTrail) Record(_ context.Context, log internalShared.AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *AuditTrail) List(_ context.Context, entity, entityID string) ([]internalShared.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []internalShared.AuditLog
	for _, log := range a.logs {
		if log.Entity == entity && log.EntityID == entityID {
			out = append(out, log)
		}
	}
	return out, nil
}

// Actions lists every recorded action in order.
func (a *AuditTrail) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, log := range a.logs {
		out = append(out, log.Action)
	}
	return out
}

// ApprovalTrail keeps approval history in memory.
type ApprovalTrail struct {
	mu   sync.Mutex
	seq  int64
	logs []internalShared.ApprovalLog
}

func (a *ApprovalTrail) Record(_ context.Context, log internalShared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	log.ID = a.seq
	a.logs = append(a.logs, log)
	return nil
}

func (a *ApprovalTrail) List(_ context.Context, module string, ref uuid.UUID) ([]internalShared.ApprovalLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []internalShared.ApprovalLog
	for _, log := range a.logs {
		if log.Module == module && log.RefID == ref {
			out = append(out, log)
		}
	}
	return out, nil
}
