package journals

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

// AuditReader lists the audit trail of an entity.
type AuditReader interface {
	List(ctx context.Context, entity, entityID string) ([]internalShared.AuditLog, error)
}

// ApprovalReader lists approval history.
type ApprovalReader interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]internalShared.ApprovalLog, error)
}

// Handler exposes the journal lifecycle over JSON.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	audit     AuditReader
	approvals ApprovalReader
}

// NewHandler builds the journal handler. The readers may be nil.
func NewHandler(logger *slog.Logger, engine *Engine, audit AuditReader, approvals ApprovalReader) *Handler {
	return &Handler{logger: logger, engine: engine, audit: audit, approvals: approvals}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/journals/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/history", h.history)
		r.Post("/approve", h.approve)
		r.Post("/discard", h.discard)
		r.Post("/reverse", h.reverse)
	})
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type reverseRequest struct {
	Memo string     `json:"memo" validate:"max=500"`
	Date *time.Time `json:"date"`
}

func journalID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("journals.http", "id", "journal id must be a positive integer")
	}
	return id, nil
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return &shared.Error{Kind: shared.ErrValidation, Op: "journals.http", Field: "body", Message: "malformed body", Err: err}
	}
	return shared.ValidateStruct("journals.http", dst)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := journalID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	journal, err := h.engine.Get(r.Context(), internalShared.OrganizationFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := journalID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	journal, err := h.engine.Get(ctx, internalShared.OrganizationFromContext(ctx), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := map[string]any{"audit": []internalShared.AuditLog{}, "approvals": []internalShared.ApprovalLog{}}
	if h.audit != nil {
		logs, err := h.audit.List(ctx, "journal", fmt.Sprintf("%d", journal.ID))
		if err != nil {
			h.logger.Error("list journal audit", slog.Int64("journal_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if logs != nil {
			out["audit"] = logs
		}
	}
	if h.approvals != nil {
		logs, err := h.approvals.List(ctx, "journal", journal.SourceID)
		if err != nil {
			h.logger.Error("list journal approvals", slog.Int64("journal_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if logs != nil {
			out["approvals"] = logs
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := journalID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req noteRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	journal, err := h.engine.Approve(ctx, ApproveInput{
		OrgID:     internalShared.OrganizationFromContext(ctx),
		JournalID: id,
		ActorID:   internalShared.ActorFromContext(ctx),
		Note:      req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	id, err := journalID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req noteRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	journal, err := h.engine.Discard(ctx, DiscardInput{
		OrgID:     internalShared.OrganizationFromContext(ctx),
		JournalID: id,
		ActorID:   internalShared.ActorFromContext(ctx),
		Reason:    req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := journalID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	journal, err := h.engine.Reverse(ctx, ReverseInput{
		OrgID:     internalShared.OrganizationFromContext(ctx),
		JournalID: id,
		ActorID:   internalShared.ActorFromContext(ctx),
		Memo:      req.Memo,
		Date:      req.Date,
	})
	if err != nil {
		h.logger.Warn("reverse journal", slog.Int64("journal_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, journal)
}
