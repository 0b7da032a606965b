package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-books/internal/observability"
	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
	_ "github.com/odyssey-erp/odyssey-books/testing"
)

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, db HealthChecker) http.Handler {
	t.Helper()
	books, err := accounting.New(accounting.MemoryStores(memstore.New()), accounting.Options{})
	require.NoError(t, err)
	return NewRouter(RouterParams{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		AccountingHandler: books.Handler(),
		Database:          db,
		Metrics:           observability.NewMetrics(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func tenant(org int64, key string) map[string]string {
	h := map[string]string{
		HeaderOrganization: fmt.Sprint(org),
		HeaderActor:        "2",
	}
	if key != "" {
		h["Idempotency-Key"] = key
	}
	return h
}

func problem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p), rr.Body.String())
	return p
}

type voucherResult struct {
	Type          string `json:"type"`
	VoucherNumber string `json:"voucherNumber"`
	JournalID     int64  `json:"journalId"`
	Status        string `json:"status"`
}

const salePayload = `{"party":{"id":"C-1","name":"Acme"},"method":"credit","items":[{"item":"Widget","quantity":"2","unitPrice":"50","unitCost":"30"}],"taxAmount":"10"}`

func TestHealthz(t *testing.T) {
	rr := do(t, newTestRouter(t, pingStub{}), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = do(t, newTestRouter(t, pingStub{err: errors.New("down")}), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.JSONEq(t, `{"status":"degraded"}`, rr.Body.String())
}

func TestTenantHeaderRequired(t *testing.T) {
	h := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/api/v1/vouchers/sales", salePayload, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	p := problem(t, rr)
	require.Equal(t, "validation_error", p.Kind)
	require.Equal(t, "organizationId", p.Field)

	rr = do(t, h, http.MethodGet, "/api/v1/ledgers", "", map[string]string{HeaderOrganization: "1", HeaderActor: "-4"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "actorId", problem(t, rr).Field)
}

func TestPostVoucherOverHTTP(t *testing.T) {
	h := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/api/v1/vouchers/sales", salePayload, tenant(1, "sale-1"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res voucherResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, "SV-00001", res.VoucherNumber)
	require.Equal(t, "POSTED", res.Status)
	require.Positive(t, res.JournalID)

	rr = do(t, h, http.MethodPost, "/api/v1/vouchers/sales", salePayload, tenant(1, "sale-1"))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "conflict", problem(t, rr).Kind)

	rr = do(t, h, http.MethodGet, "/api/v1/trial-balance?fresh=true", "", tenant(1, ""))
	require.Equal(t, http.StatusOK, rr.Code)
	var tb struct {
		Balanced    bool            `json:"balanced"`
		TotalDebit  decimal.Decimal `json:"totalDebit"`
		TotalCredit decimal.Decimal `json:"totalCredit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tb))
	require.True(t, tb.Balanced)
	require.True(t, tb.TotalDebit.Equal(tb.TotalCredit))

	rr = do(t, h, http.MethodGet, "/api/v1/ledgers/balance?path=Assets:Accounts%20Receivable:Acme", "", tenant(1, ""))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), "110")

	// another organization sees none of it
	rr = do(t, h, http.MethodGet, "/api/v1/ledgers", "", tenant(2, ""))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotContains(t, rr.Body.String(), "Acme")
}

func TestImbalancedJournalReturnsTotals(t *testing.T) {
	h := newTestRouter(t, nil)
	body := `{"lines":[{"accountPath":"Assets:Cash","role":"debit","amount":"10"},{"accountPath":"Revenue:Sales","role":"credit","amount":"9"}]}`

	rr := do(t, h, http.MethodPost, "/api/v1/vouchers/journal", body, tenant(1, ""))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	p := problem(t, rr)
	require.Equal(t, "imbalanced_posting", p.Kind)
	require.Equal(t, "10.00", p.DebitTotal)
	require.Equal(t, "9.00", p.CreditTotal)
}

func TestUnknownVoucherTypeAndJournal(t *testing.T) {
	h := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/api/v1/vouchers/barter", `{}`, tenant(1, ""))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/v1/journals/999", "", tenant(1, ""))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", problem(t, rr).Kind)
}

func TestContraApprovalOverHTTP(t *testing.T) {
	h := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/api/v1/vouchers/contra", `{"from":"cash","to":"bank","amount":"20"}`, tenant(1, ""))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res voucherResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, "DRAFT", res.Status)

	path := fmt.Sprintf("/api/v1/journals/%d/approve", res.JournalID)
	rr = do(t, h, http.MethodPost, path, `{"note":"checked"}`, tenant(1, ""))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var journal struct {
		Status        string `json:"status"`
		VoucherNumber string `json:"voucherNumber"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &journal))
	require.Equal(t, "POSTED", journal.Status)
	require.Equal(t, res.VoucherNumber, journal.VoucherNumber)

	rr = do(t, h, http.MethodPost, path, "", tenant(1, ""))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "invalid_status", problem(t, rr).Kind)
}

func TestListVoucherTypes(t *testing.T) {
	rr := do(t, newTestRouter(t, nil), http.MethodGet, "/api/v1/vouchers", "", tenant(1, ""))
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Types []json.RawMessage `json:"types"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Types, 13)
}

func TestCORSAllowsConfiguredOriginsOnly(t *testing.T) {
	books, err := accounting.New(accounting.MemoryStores(memstore.New()), accounting.Options{})
	require.NoError(t, err)
	h := NewRouter(RouterParams{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:            &Config{AppCORSOrigins: []string{"https://books.example"}},
		AccountingHandler: books.Handler(),
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		return do(t, h, http.MethodOptions, "/api/v1/vouchers/sales", "", map[string]string{
			"Origin":                        origin,
			"Access-Control-Request-Method": http.MethodPost,
		})
	}
	require.Equal(t, "https://books.example", preflight("https://books.example").Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, preflight("https://evil.example").Header().Get("Access-Control-Allow-Origin"))

	// without configured origins nothing is allowed
	open := newTestRouter(t, nil)
	rr := do(t, open, http.MethodOptions, "/api/v1/vouchers/sales", "", map[string]string{
		"Origin":                        "https://books.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
