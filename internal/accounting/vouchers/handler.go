package vouchers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-books/internal/shared"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes voucher posting over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the voucher handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/vouchers", h.listTypes)
	r.Post("/vouchers/{type}", h.post)
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()
	out := make([]Definition, 0, len(catalog.Types()))
	for _, t := range catalog.Types() {
		def, _ := catalog.Lookup(t)
		out = append(out, def)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"types": out})
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	raw, err := httpx.ReadRaw(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Post(r.Context(), PostRequest{
		Type:           chi.URLParam(r, "type"),
		OrgID:          shared.OrganizationFromContext(r.Context()),
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Payload:        raw,
	})
	if err != nil {
		h.logger.Warn("post voucher", slog.String("type", chi.URLParam(r, "type")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}
