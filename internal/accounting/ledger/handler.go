package ledger

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes the read side of the books.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the ledger query handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledgers/balance", h.balance)
	r.Get("/ledgers/balances", h.balances)
	r.Get("/general-ledger", h.generalLedger)
	r.Get("/day-book", h.dayBook)
	r.Get("/trial-balance", h.trialBalance)
}

// parseDate accepts a calendar date or an RFC3339 timestamp. endOfDay moves a
// bare date to its last instant so "to" filters are inclusive.
func parseDate(q url.Values, field string, endOfDay bool, loc *time.Location) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(field))
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return nil, shared.Validation("ledger.http", field, "expected YYYY-MM-DD or RFC3339")
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}

func parseInt(q url.Values, field string) (int, error) {
	raw := strings.TrimSpace(q.Get(field))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, shared.Validation("ledger.http", field, "expected a non-negative integer")
	}
	return v, nil
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asOf, err := parseDate(q, "asOf", true, h.service.location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	query := BalanceQuery{
		OrgID:       internalShared.OrganizationFromContext(r.Context()),
		AccountPath: strings.TrimSpace(q.Get("path")),
		AsOf:        asOf,
	}
	if raw := strings.TrimSpace(q.Get("ledgerId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, shared.Validation("ledger.http", "ledgerId", "expected a positive integer"))
			return
		}
		query.LedgerID = id
	}
	res, err := h.service.Balance(r.Context(), query)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r.URL.Query(), "asOf", true, h.service.location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.LedgerBalances(r.Context(), internalShared.OrganizationFromContext(r.Context()), asOf)
	if err != nil {
		h.logger.Error("ledger balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []LedgerBalance{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ledgers": rows})
}

func (h *Handler) generalLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q, "from", false, h.service.location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := parseDate(q, "to", true, h.service.location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := parseInt(q, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.GeneralLedger(r.Context(), GLFilter{
		OrgID:   internalShared.OrganizationFromContext(r.Context()),
		From:    from,
		To:      to,
		Account: strings.TrimSpace(q.Get("account")),
		Limit:   limit,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []LedgerRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) dayBook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q, "from", false, h.service.location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := parseDate(q, "to", true, h.service.location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := parseInt(q, "page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pageSize, err := parseInt(q, "pageSize")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.DayBook(r.Context(), DayBookFilter{
		OrgID:       internalShared.OrganizationFromContext(r.Context()),
		Page:        page,
		PageSize:    pageSize,
		From:        from,
		To:          to,
		Account:     strings.TrimSpace(q.Get("account")),
		VoucherType: strings.TrimSpace(q.Get("voucherType")),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if out.Groups == nil {
		out.Groups = []DayBookGroup{}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asOf, err := parseDate(q, "asOf", true, h.service.location)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	fresh, _ := strconv.ParseBool(q.Get("fresh"))
	tb, err := h.service.TrialBalance(r.Context(), internalShared.OrganizationFromContext(r.Context()), asOf, fresh)
	if err != nil {
		h.logger.Error("trial balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}
