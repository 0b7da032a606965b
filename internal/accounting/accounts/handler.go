package accounts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

// Handler exposes the account directory over JSON.
type Handler struct {
	directory *Directory
	logger    *slog.Logger
}

// NewHandler builds the directory handler.
func NewHandler(logger *slog.Logger, directory *Directory) *Handler {
	return &Handler{logger: logger, directory: directory}
}

// MountRoutes registers ledger, group and chart routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledgers", h.listLedgers)
	r.Post("/ledgers", h.createLedger)
	r.Get("/ledgers/{id}", h.getLedger)
	r.Post("/ledger-groups", h.createGroup)
	r.Patch("/ledger-groups/{id}", h.updateGroup)
	r.Delete("/ledger-groups/{id}", h.deleteGroup)
	r.Get("/chart-of-accounts", h.listCharts)
	r.Post("/chart-of-accounts", h.ensureChart)
}

type ensureChartRequest struct {
	LedgerID int64 `json:"ledgerId" validate:"required"`
}

// updateGroupRequest renames and/or moves a group. Move is only applied when
// the parentId key is present; null moves the group to the root.
type updateGroupRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=120"`
	ParentID *int64  `json:"parentId"`
	Move     bool    `json:"move"`
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("accounts.http", "id", "id must be a positive integer")
	}
	return id, nil
}

func decode(r *http.Request, op string, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return &shared.Error{Kind: shared.ErrValidation, Op: op, Field: "body", Message: "malformed body", Err: err}
	}
	return nil
}

func (h *Handler) listLedgers(w http.ResponseWriter, r *http.Request) {
	ledgers, err := h.directory.ListLedgers(r.Context(), internalShared.OrganizationFromContext(r.Context()))
	if err != nil {
		h.logger.Error("list ledgers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if ledgers == nil {
		ledgers = []Ledger{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ledgers": ledgers})
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ledger, err := h.directory.GetLedger(r.Context(), internalShared.OrganizationFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) createLedger(w http.ResponseWriter, r *http.Request) {
	var in LedgerInput
	if err := decode(r, "accounts.create_ledger", &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.OrgID = internalShared.OrganizationFromContext(r.Context())
	in.ActorID = internalShared.ActorFromContext(r.Context())
	ledger, err := h.directory.CreateLedger(r.Context(), in)
	if err != nil {
		h.logger.Warn("create ledger", slog.String("name", in.Name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ledger)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var in GroupInput
	if err := decode(r, "accounts.create_group", &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.OrgID = internalShared.OrganizationFromContext(r.Context())
	group, err := h.directory.CreateGroup(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, group)
}

func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateGroupRequest
	if err := decode(r, "accounts.update_group", &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct("accounts.update_group", req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !req.Move && req.Name == nil {
		httpx.RespondError(w, shared.Validation("accounts.update_group", "name", "nothing to update"))
		return
	}
	ctx := r.Context()
	orgID := internalShared.OrganizationFromContext(ctx)
	var group LedgerGroup
	if req.Move {
		if group, err = h.directory.MoveGroup(ctx, orgID, id, req.ParentID); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if req.Name != nil {
		if group, err = h.directory.RenameGroup(ctx, orgID, id, *req.Name); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, group)
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.directory.DeleteGroup(r.Context(), internalShared.OrganizationFromContext(r.Context()), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCharts(w http.ResponseWriter, r *http.Request) {
	charts, err := h.directory.ListChartOfAccounts(r.Context(), internalShared.OrganizationFromContext(r.Context()))
	if err != nil {
		h.logger.Error("list chart of accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if charts == nil {
		charts = []ChartOfAccount{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": charts})
}

func (h *Handler) ensureChart(w http.ResponseWriter, r *http.Request) {
	var req ensureChartRequest
	if err := decode(r, "accounts.ensure_chart", &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct("accounts.ensure_chart", req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	ledger, err := h.directory.GetLedger(ctx, internalShared.OrganizationFromContext(ctx), req.LedgerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	chart, err := h.directory.EnsureChartOfAccount(ctx, ledger)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, chart)
}
