// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20

// ProblemDetail represents RFC7807 problem details. Kind, Field and the
// totals are ledger extensions.
type ProblemDetail struct {
	Type        string `json:"type,omitempty"`
	Title       string `json:"title"`
	Status      int    `json:"status"`
	Detail      string `json:"detail,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Field       string `json:"field,omitempty"`
	VoucherType string `json:"voucherType,omitempty"`
	DebitTotal  string `json:"debitTotal,omitempty"`
	CreditTotal string `json:"creditTotal,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	WriteProblem(w, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteProblem sends a fully populated problem document.
func WriteProblem(w http.ResponseWriter, p ProblemDetail) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// DecodeJSON strictly decodes the request body into target. Unknown fields
// and trailing data are rejected.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return errors.Join(ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.Join(ErrValidation, errors.New("body must contain a single JSON value"))
	}
	return nil
}

// ReadRaw reads the request body as raw JSON.
func ReadRaw(r *http.Request) (json.RawMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if !json.Valid(bytes.TrimSpace(raw)) {
		return nil, errors.Join(ErrValidation, errors.New("body is not valid JSON"))
	}
	return raw, nil
}
