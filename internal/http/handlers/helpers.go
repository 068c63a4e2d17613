package handlers

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErrorDetails emits {error, details}. Callers pass nil details in
// production mode to keep internals out of responses.
func writeErrorDetails(w http.ResponseWriter, status int, message string, details interface{}) {
	body := map[string]interface{}{"error": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
