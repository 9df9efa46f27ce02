package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Response is the `{"error":{...}}` envelope every failed HTTP call returns.
type Response struct {
	Error Detail `json:"error"`
}

// Detail carries the machine-readable code, message, and optional context.
type Detail struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteHTTP maps err onto the envelope and writes it to w. Any error not
// already an *Error is reported as CodeInternal without leaking its text.
func WriteHTTP(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = New(CodeInternal, "internal error")
	}
	resp := Response{Error: Detail{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Retryable: apiErr.Code.Retryable(),
		Details:   apiErr.Details,
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(resp)
}

// Write is a convenience constructor-and-write for handlers that have not
// built an *Error value yet.
func Write(w http.ResponseWriter, code Code, message string) {
	WriteHTTP(w, New(code, message))
}
