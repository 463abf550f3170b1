// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// errorBody is the uniform error envelope for every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// writeError reports a caller mistake as a 400.
func writeError(w http.ResponseWriter, err error) {
	writeErrorCode(w, http.StatusBadRequest, err.Error())
}

func writeUnauthorized(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
}

func writeNotFound(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusNotFound, "not found")
}

func writeServiceUnavailable(w http.ResponseWriter, err error) {
	writeErrorCode(w, http.StatusServiceUnavailable, err.Error())
}

// decodeJSON reads a request body into v. The body is capped and unknown
// fields are rejected so typos surface as 400s instead of silent zero values.
func decodeJSON(r *http.Request, v any, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
