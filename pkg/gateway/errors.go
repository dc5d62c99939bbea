package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"waterstation-gateway/pkg/models"
)

// ValidationError is the caller's fault. Fields lists the offending inputs.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// MissingParameter is a ValidationError for a single absent query parameter.
func MissingParameter(name string) *ValidationError {
	return &ValidationError{Message: "missing required parameter", Fields: []string{name}}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string { return "unauthorized" }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UpstreamError means a required dependency failed and there is no fallback.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func statusCode(err error) int {
	var (
		validation   *ValidationError
		notFound     *NotFoundError
		unauthorized *UnauthorizedError
		conflict     *ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError renders the {success:false, error, fields?} envelope. Upstream
// details stay in the log; the caller only sees the operation that failed.
func writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	resp := models.ErrorResponse{Success: false, Error: err.Error()}

	var validation *ValidationError
	if errors.As(err, &validation) {
		resp.Error = validation.Message
		resp.Fields = validation.Fields
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		resp.Error = upstream.Op + " failed"
	}
	writeJSON(w, code, resp)
}
