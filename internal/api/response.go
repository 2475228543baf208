package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Response is the envelope of every API response.
type Response struct {
	Data  any   `json:"data,omitempty"`
	Error any   `json:"error,omitempty"`
	Meta  *Meta `json:"meta,omitempty"`
}

// Meta describes list responses.
type Meta struct {
	Total int `json:"total"`
}

// APIError is the error body of a failed request.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{Code: e.Code, Message: message, StatusCode: e.StatusCode}
}

// Standard errors
var (
	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewNotFoundError creates a not found error for a specific resource.
func NewNotFoundError(resource string) *APIError {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s not found", resource))
}

// asAPIError converts err to an *APIError, falling back to ErrInternal.
func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Response{Data: data})
}

// JSONWithMeta writes a JSON list response.
func JSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	writeEnvelope(w, status, Response{Data: data, Meta: meta})
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error writes an error response.
func Error(w http.ResponseWriter, err error) {
	apiErr := asAPIError(err)
	writeEnvelope(w, apiErr.StatusCode, Response{Error: apiErr})
}

func writeEnvelope(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
