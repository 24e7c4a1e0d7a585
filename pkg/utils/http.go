package utils

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response shape of the request/response
// surface: {success, data} on success, {success:false, error} on
// failure.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// JSONError writes a failure envelope with the given status code. It
// ensures the Content-Type is set to application/json.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Error: message})
}

// JSONWrite writes a success envelope around v with the given status
// code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(Envelope{Success: true, Data: v})
}
