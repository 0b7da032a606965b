package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

// SourceReversal is the source module of reversing journals.
const SourceReversal = "REVERSAL"

// AuditPort records journal lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// ApprovalPort records approval history of draft journals.
type ApprovalPort interface {
	Record(ctx context.Context, log internalShared.ApprovalLog) error
}

// ChangeNotifier is told when the balances of an organization changed.
type ChangeNotifier interface {
	Invalidate(ctx context.Context, orgID int64) error
}

// Observer receives posting outcomes.
type Observer interface {
	ObservePosting(voucherType string, status string, err error)
}

// Engine commits balanced journals atomically.
type Engine struct {
	repo         Repository
	allocator    *sequences.Allocator
	audit        AuditPort
	approvals    ApprovalPort
	notifier     ChangeNotifier
	observer     Observer
	reversalSpec *sequences.Spec
	logger       *slog.Logger
	now          func() time.Time
}

// NewEngine constructs the posting engine. The allocator is made to verify
// candidates against this engine's journals.
func NewEngine(repo Repository, allocator *sequences.Allocator, audit AuditPort) *Engine {
	e := &Engine{repo: repo, allocator: allocator, audit: audit, logger: slog.Default(), now: time.Now}
	if allocator != nil {
		allocator.WithChecker(e)
	}
	return e
}

func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) WithLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

func (e *Engine) WithApprovals(a ApprovalPort) { e.approvals = a }

func (e *Engine) WithNotifier(n ChangeNotifier) { e.notifier = n }

func (e *Engine) WithObserver(o Observer) { e.observer = o }

// WithReversalSpec sets the numbering used for reversing journals.
func (e *Engine) WithReversalSpec(spec sequences.Spec) {
	e.reversalSpec = &spec
}

// Post validates and commits one journal with its lines. Re-posting the same
// (SourceModule, SourceID) returns shared.ErrSourceAlreadyLinked.
func (e *Engine) Post(ctx context.Context, in PostingInput) (Journal, error) {
	journal, err := e.post(ctx, in)
	if e.observer != nil {
		e.observer.ObservePosting(in.VoucherType, string(in.Status), err)
	}
	if err != nil {
		return Journal{}, shared.WithOrg(err, in.OrgID, in.VoucherType)
	}
	if journal.Status == StatusPosted {
		e.invalidate(ctx, journal.OrgID)
	}
	e.record(ctx, in.PostedBy, "journal.post", journal.ID, map[string]any{
		"voucher_type":   journal.VoucherType,
		"voucher_number": journal.VoucherNumber,
		"status":         string(journal.Status),
		"source_module":  journal.SourceModule,
		"source_id":      journal.SourceID.String(),
	})
	if journal.Status == StatusDraft && e.approvals != nil && in.PostedBy != 0 {
		if err := e.approvals.Record(ctx, internalShared.ApprovalLog{
			Module:  "journal",
			RefID:   journal.SourceID,
			ActorID: in.PostedBy,
			Action:  internalShared.ApprovalSubmit,
			At:      e.now(),
		}); err != nil {
			e.logger.Warn("record journal submit", slog.Int64("journal_id", journal.ID), slog.Any("error", err))
		}
	}
	return journal, nil
}

func (e *Engine) post(ctx context.Context, in PostingInput) (Journal, error) {
	if err := in.Validate(); err != nil {
		return Journal{}, err
	}
	in = e.withDefaults(in)
	allocate := in.VoucherNumber == "" && in.Sequence != nil
	if allocate && e.allocator == nil {
		return Journal{}, errors.New("journals: allocator not configured")
	}
	// one increment budget shared by every reallocation after a commit conflict
	remaining := 0
	if allocate {
		remaining = e.allocator.MaxAttempts()
	}
	for attempt := 1; ; attempt++ {
		if allocate {
			number, used, err := e.allocator.NextWithin(ctx, in.OrgID, *in.Sequence, remaining)
			if err != nil {
				return Journal{}, err
			}
			remaining -= used
			in.VoucherNumber = number
		}
		journal, err := e.commit(ctx, in)
		if err == nil {
			return journal, nil
		}
		if !errors.Is(err, shared.ErrVoucherNumberConflict) {
			return Journal{}, err
		}
		if !allocate {
			return Journal{}, &shared.Error{Kind: shared.ErrVoucherNumberConflict, Op: "journals.post", Field: "voucherNumber",
				Message: fmt.Sprintf("voucher number %s already used", in.VoucherNumber)}
		}
		if remaining <= 0 {
			return Journal{}, &shared.Error{Kind: shared.ErrAllocationExhausted, Op: "journals.post",
				Message: fmt.Sprintf("voucher number still taken after %d attempts", attempt), Err: err}
		}
		e.logger.Warn("voucher number taken at commit, reallocating",
			slog.Int64("org_id", in.OrgID), slog.String("voucher_number", in.VoucherNumber), slog.Int("attempt", attempt))
	}
}

func (e *Engine) withDefaults(in PostingInput) PostingInput {
	if in.Date.IsZero() {
		in.Date = e.now()
	}
	if in.Status == "" {
		in.Status = StatusPosted
	}
	if in.VoucherType == "" && in.Sequence != nil {
		in.VoucherType = in.Sequence.Type
	}
	if strings.TrimSpace(in.SourceModule) == "" {
		in.SourceModule = "MANUAL"
	}
	if in.SourceID == uuid.Nil {
		in.SourceID = uuid.New()
	}
	return in
}

func (e *Engine) commit(ctx context.Context, in PostingInput) (Journal, error) {
	var journal Journal
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertJournal(ctx, in)
		if err != nil {
			return err
		}
		lines, err := tx.InsertTransactions(ctx, inserted, in.Lines)
		if err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, in.OrgID, in.SourceModule, in.SourceID, inserted.ID); err != nil {
			if errors.Is(err, shared.ErrSourceConflict) {
				return &shared.Error{Kind: shared.ErrSourceAlreadyLinked, Op: "journals.post",
					Message: fmt.Sprintf("source %s/%s already posted", in.SourceModule, in.SourceID)}
			}
			return err
		}
		inserted.Lines = lines
		journal = inserted
		return nil
	})
	return journal, err
}

// Approve moves a DRAFT journal to POSTED so it starts counting in balances.
func (e *Engine) Approve(ctx context.Context, in ApproveInput) (Journal, error) {
	journal, err := e.transition(ctx, in.OrgID, in.JournalID, StatusPosted, &in.ActorID)
	if err != nil {
		return Journal{}, err
	}
	e.invalidate(ctx, journal.OrgID)
	e.approval(ctx, journal, in.ActorID, internalShared.ApprovalApprove, in.Note)
	e.record(ctx, in.ActorID, "journal.approve", journal.ID, map[string]any{"voucher_number": journal.VoucherNumber})
	return journal, nil
}

// Discard voids a DRAFT journal. Posted journals are corrected by Reverse.
func (e *Engine) Discard(ctx context.Context, in DiscardInput) (Journal, error) {
	journal, err := e.transition(ctx, in.OrgID, in.JournalID, StatusVoid, nil)
	if err != nil {
		return Journal{}, err
	}
	e.approval(ctx, journal, in.ActorID, internalShared.ApprovalReject, in.Reason)
	e.record(ctx, in.ActorID, "journal.discard", journal.ID, map[string]any{"reason": in.Reason})
	return journal, nil
}

func (e *Engine) transition(ctx context.Context, orgID, id int64, to Status, actor *int64) (Journal, error) {
	if orgID == 0 || id == 0 {
		return Journal{}, shared.Validation("journals.transition", "journalId", "organization and journal id required")
	}
	var journal Journal
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, orgID, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NotFound("journals.transition", "journal")
			}
			return err
		}
		if current.Status != StatusDraft {
			return &shared.Error{Kind: shared.ErrInvalidStatus, Op: "journals.transition", OrgID: orgID,
				Message: fmt.Sprintf("journal %d is %s, expected %s", id, current.Status, StatusDraft)}
		}
		var approvedAt *time.Time
		if to == StatusPosted {
			ts := e.now()
			approvedAt = &ts
		}
		if err := tx.UpdateStatus(ctx, orgID, id, to, actor, approvedAt); err != nil {
			return err
		}
		current.Status = to
		if approvedAt != nil {
			current.ApprovedAt = approvedAt
			current.ApprovedBy = actor
		}
		journal = current
		return nil
	})
	return journal, err
}

// Reverse posts a new journal with every role flipped. A journal can be
// reversed once.
func (e *Engine) Reverse(ctx context.Context, in ReverseInput) (Journal, error) {
	original, err := e.Get(ctx, in.OrgID, in.JournalID)
	if err != nil {
		return Journal{}, err
	}
	if original.Status != StatusPosted {
		return Journal{}, &shared.Error{Kind: shared.ErrInvalidStatus, Op: "journals.reverse", OrgID: in.OrgID,
			Message: fmt.Sprintf("journal %d is %s, only posted journals can be reversed", original.ID, original.Status)}
	}
	date := e.now()
	if in.Date != nil {
		date = *in.Date
	}
	lines := make([]PostingLine, 0, len(original.Lines))
	for _, line := range original.Lines {
		meta := copyMeta(line.Meta)
		delete(meta, "openingFor")
		meta["reversalOf"] = original.ID
		lines = append(lines, PostingLine{AccountPath: line.AccountPath, Role: line.Role.Opposite(), Amount: line.Amount, Meta: meta})
	}
	posting := PostingInput{
		OrgID:        in.OrgID,
		Date:         date,
		Memo:         reversalMemo(in.Memo, original),
		VoucherType:  original.VoucherType,
		Sequence:     e.reversalSpec,
		SourceModule: SourceReversal,
		SourceID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("journal:%d:%d", original.OrgID, original.ID))),
		PostedBy:     in.ActorID,
		Meta:         map[string]any{"reversalOf": original.ID, "reversedNumber": original.VoucherNumber},
		Lines:        lines,
	}
	if e.reversalSpec != nil {
		posting.VoucherType = e.reversalSpec.Type
	}
	return e.Post(ctx, posting)
}

// Get loads a journal with its lines.
func (e *Engine) Get(ctx context.Context, orgID, id int64) (Journal, error) {
	journal, err := e.repo.GetJournal(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Journal{}, shared.NotFound("journals.get", "journal")
		}
		return Journal{}, err
	}
	return journal, nil
}

// NumberInUse reports whether a journal of voucherType already carries number.
func (e *Engine) NumberInUse(ctx context.Context, orgID int64, voucherType, number string) (bool, error) {
	return e.repo.NumberInUse(ctx, orgID, voucherType, number)
}

func (e *Engine) invalidate(ctx context.Context, orgID int64) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Invalidate(ctx, orgID); err != nil {
		e.logger.Warn("invalidate ledger cache", slog.Int64("org_id", orgID), slog.Any("error", err))
	}
}

func (e *Engine) approval(ctx context.Context, journal Journal, actorID int64, action internalShared.ApprovalAction, note string) {
	if e.approvals == nil || actorID == 0 {
		return
	}
	if err := e.approvals.Record(ctx, internalShared.ApprovalLog{
		Module:  "journal",
		RefID:   journal.SourceID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      e.now(),
	}); err != nil {
		e.logger.Warn("record journal approval", slog.Int64("journal_id", journal.ID), slog.Any("error", err))
	}
}

func (e *Engine) record(ctx context.Context, actorID int64, action string, journalID int64, meta map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal",
		EntityID: fmt.Sprintf("%d", journalID),
		Meta:     meta,
		At:       e.now(),
	}); err != nil {
		e.logger.Warn("record journal audit", slog.String("action", action), slog.Int64("journal_id", journalID), slog.Any("error", err))
	}
}

func copyMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func reversalMemo(memo string, original Journal) string {
	if memo != "" {
		return memo
	}
	ref := original.VoucherNumber
	if ref == "" {
		ref = fmt.Sprintf("journal %d", original.ID)
	}
	return "Reversal of " + ref
}
