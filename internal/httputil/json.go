// Package httputil provides JSON helpers for HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a json object on a http.ResponseWriter with the given
// code, panics on marshaling error.
func WriteJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	if r.URL.Query().Get("pretty") == "true" {
		enc.SetIndent("", "  ")
	}
	if err, ok := v.(error); ok {
		v = map[string]interface{}{"error": err.Error()}
	}
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}
