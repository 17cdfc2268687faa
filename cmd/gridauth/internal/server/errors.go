package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrMissingCredentials is returned when a login request omits the username or password.
	ErrMissingCredentials = errors.New("missing username or password")

	// ErrInvalidCredentials is returned for any rejected login. The verifier's detail is logged, not sent.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ErrorResponse is the JSON body of every handler error.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
