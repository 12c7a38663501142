package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody mirrors the handler envelope so clients parse middleware
// rejections the same way as endpoint errors.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, msg, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Reason: reason})
}
