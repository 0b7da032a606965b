package accounting

import (
	"github.com/go-chi/chi/v5"
)

// Mounter is implemented by every accounting sub handler.
type Mounter interface {
	MountRoutes(r chi.Router)
}

// Handler groups the accounting endpoints.
type Handler struct {
	handlers []Mounter
}

// NewHandler builds a Handler instance.
func NewHandler(handlers ...Mounter) *Handler {
	return &Handler{handlers: handlers}
}

// MountRoutes registers HTTP routes for the accounting module.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, sub := range h.handlers {
		sub.MountRoutes(r)
	}
}
