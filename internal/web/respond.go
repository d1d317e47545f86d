// SPDX-License-Identifier: MIT

// Package web holds small HTTP response helpers shared by both services.
package web

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the stable error envelope for every non-2xx JSON response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {"error": ...} envelope with the given status.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, ErrorBody{Error: msg})
}
