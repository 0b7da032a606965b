// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var le *shared.Error
	if errors.As(err, &le) {
		p := ProblemDetail{
			Kind:        shared.KindName(err),
			Field:       le.Field,
			VoucherType: le.VoucherType,
			Detail:      le.Error(),
		}
		p.Status, p.Title = statusFor(err)
		if p.Status == http.StatusInternalServerError {
			p.Detail = ""
		}
		if le.Totals != nil {
			p.DebitTotal = le.Totals.Debit.StringFixed(2)
			p.CreditTotal = le.Totals.Credit.StringFixed(2)
		}
		WriteProblem(w, p)
		return
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func statusFor(err error) (int, string) {
	switch shared.Kind(err) {
	case shared.ErrValidation:
		return http.StatusBadRequest, "Validation Failed"
	case shared.ErrImbalanced:
		return http.StatusUnprocessableEntity, "Imbalanced Posting"
	case shared.ErrAllocationExhausted:
		return http.StatusServiceUnavailable, "Voucher Number Unavailable"
	case shared.ErrAccountResolution:
		return http.StatusFailedDependency, "Account Resolution Failed"
	case shared.ErrNotFound:
		return http.StatusNotFound, "Not Found"
	case shared.ErrInvalidStatus, shared.ErrSourceAlreadyLinked, shared.ErrVoucherNumberConflict:
		return http.StatusConflict, "Conflict"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
