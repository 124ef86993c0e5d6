// Package httputil provides JSON request and response helpers for the HTTP API.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
)

// maxBodyBytes caps request bodies read by DecodeJSON.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes data as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error body with an explicit code.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message, Details: details})
}

// WriteServiceError maps err to its HTTP status. Unclassified errors become
// INTERNAL without leaking their text.
func WriteServiceError(w http.ResponseWriter, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("internal error", err)
	}
	WriteError(w, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// BadRequest writes an INVALID_INPUT error.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, string(svcerrors.CodeInvalidInput), message, nil)
}

// Unauthorized writes an UNAUTHORIZED error.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteError(w, http.StatusUnauthorized, string(svcerrors.CodeUnauthorized), message, nil)
}

// DecodeJSON decodes a single JSON object from the request body, rejecting
// unknown fields and trailing data.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return svcerrors.InvalidInput("body", "request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return svcerrors.InvalidInput("body", "request body is required")
		}
		return svcerrors.InvalidInput("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	if dec.More() {
		return svcerrors.InvalidInput("body", "request body must contain a single JSON object")
	}
	return nil
}

// QueryString returns the trimmed query parameter, or "".
func QueryString(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}

// RequireQuery returns a non-empty query parameter or INVALID_INPUT.
func RequireQuery(r *http.Request, name string) (string, error) {
	v := QueryString(r, name)
	if v == "" {
		return "", svcerrors.InvalidInput(name, name+" is required")
	}
	return v, nil
}

// QueryBool parses a boolean parameter; absent means def.
func QueryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := QueryString(r, name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, svcerrors.InvalidInput(name, name+" must be a boolean")
	}
	return b, nil
}

// QueryFloat parses an optional float parameter; absent returns nil.
func QueryFloat(r *http.Request, name string) (*float64, error) {
	raw := QueryString(r, name)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, svcerrors.InvalidInput(name, name+" must be a number")
	}
	return &f, nil
}

// QueryInt parses an optional integer parameter; absent means def.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := QueryString(r, name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, svcerrors.InvalidInput(name, name+" must be an integer")
	}
	return n, nil
}
