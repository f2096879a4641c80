// Package http holds small helpers shared by the anchor service's HTTP
// handlers.
package http

import (
	"encoding/json"
	"net/http"
)

// WriteError writes a {"error": msg} JSON body with the given status code.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// WriteJSON marshals v and writes it with the given status code. A
// marshal failure degrades to a 500 with no body, since the original
// status has already been decided by the caller.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
