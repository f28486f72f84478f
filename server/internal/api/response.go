// Package api implements the HTTP/REST Surface (C8): a thin adapter from
// HTTP requests to core operations (store, dispatcher, registry, plan
// runner). It uses chi as the router and exposes all resources under
// /api/v1. Authentication, where configured, is a single shared bearer
// token (spec.md §6) — there is no per-user identity in this data model.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ccxuy/easyrun/shared/types"
)

// envelope is the standard JSON response wrapper for all API responses.
// Successful responses wrap the payload in a "data" key; error responses
// use an "error" key with a human-readable message and a taxonomy code.
//
// Success:  {"data": <payload>}
// Error:    {"error": {"message": "...", "code": "..."}}
type envelope map[string]any

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the payload wrapped in {"data": payload}.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{"data": payload})
}

// Created writes a 201 Created response with the payload wrapped in {"data": payload}.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, envelope{"data": payload})
}

// errorResponse is the shape of the "error" object in error responses.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func errJSON(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, envelope{"error": errorResponse{Message: message, Code: code}})
}

// ErrBadRequest writes a 400 Bad Request error response.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, string(types.ErrKindInputInvalid))
}

// ErrUnauthorized writes a 401 Unauthorized error response.
func ErrUnauthorized(w http.ResponseWriter) {
	errJSON(w, http.StatusUnauthorized, "authentication required", string(types.ErrKindUnauthorized))
}

// ErrNotFound writes a 404 Not Found error response.
func ErrNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "resource not found"
	}
	errJSON(w, http.StatusNotFound, message, string(types.ErrKindNotFound))
}

// ErrNodeUnknown writes a 404 Not Found error response tagged NodeUnknown.
func ErrNodeUnknown(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusNotFound, message, string(types.ErrKindNodeUnknown))
}

// ErrConflict writes a 409 Conflict error response.
func ErrConflict(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusConflict, message, string(types.ErrKindConflict))
}

// ErrInternal writes a 500 Internal Server Error response. The internal
// error detail is logged by the caller, not exposed to the client.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "an internal error occurred", string(types.ErrKindStoreError))
}

// writeErr maps an apperr-classified error (see internal/apperr) to the
// appropriate HTTP status and writes it, per spec.md §7's taxonomy.
func writeErr(w http.ResponseWriter, kind types.ErrorKind, err error) {
	msg := err.Error()
	switch kind {
	case types.ErrKindInputInvalid:
		ErrBadRequest(w, msg)
	case types.ErrKindNotFound:
		ErrNotFound(w, msg)
	case types.ErrKindConflict:
		ErrConflict(w, msg)
	case types.ErrKindUnauthorized:
		ErrUnauthorized(w)
	case types.ErrKindNodeUnknown:
		ErrNodeUnknown(w, msg)
	default:
		ErrInternal(w)
	}
}

// decodeJSON decodes the request body into dst. Returns false and writes an
// appropriate error response if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeJSONLenient is decodeJSON without DisallowUnknownFields, for
// endpoints that accept arbitrary JSON bodies (e.g. webhook payloads) and
// only care about a subset of fields.
func decodeJSONLenient(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
