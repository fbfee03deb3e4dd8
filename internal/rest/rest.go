package rest

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSON encodes payload with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func WriteError(w http.ResponseWriter, status int, message string, details string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// ParseTimeParam reads an RFC3339 query parameter, writing a 400 response when it is invalid.
func ParseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	value := r.URL.Query().Get(name)
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid "+name+" (date) format", "'"+name+"' must be in RFC3339 format")
		return time.Time{}, false
	}
	return t, true
}
