// Package httputil provides the response envelope, request parsing and the
// HTTP middleware shared by every roomdesk handler.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Envelope is the single response shape for every endpoint
type Envelope struct {
	Status   string              `json:"status"`
	Message  string              `json:"message"`
	Data     interface{}         `json:"data"`
	Errors   map[string][]string `json:"errors,omitempty"`
	Paginate *Paginate           `json:"paginate,omitempty"`
}

// Paginate describes one page of a list response
type Paginate struct {
	Total       int `json:"total"`
	CurrentPage int `json:"current_page"`
	Limit       int `json:"limit"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	_ = WriteJSON(w, status, Envelope{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	})
}

// WriteOK writes a 200 success envelope
func WriteOK(w http.ResponseWriter, message string, data interface{}) {
	WriteSuccess(w, http.StatusOK, message, data)
}

// WriteCreated writes a 201 success envelope
func WriteCreated(w http.ResponseWriter, message string, data interface{}) {
	WriteSuccess(w, http.StatusCreated, message, data)
}

// WritePaginated writes a 200 success envelope with pagination info
func WritePaginated(w http.ResponseWriter, message string, data interface{}, page Paginate) {
	_ = WriteJSON(w, http.StatusOK, Envelope{
		Status:   StatusSuccess,
		Message:  message,
		Data:     data,
		Paginate: &page,
	})
}

// WriteFailure writes a failed envelope with a fixed status
func WriteFailure(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, Envelope{
		Status:  StatusFailed,
		Message: message,
	})
}

// WriteError maps err to a status through apierr and writes a failed envelope
func WriteError(w http.ResponseWriter, err error) {
	env := Envelope{
		Status:  StatusFailed,
		Message: apierr.Message(err),
	}

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		env.Errors = apiErr.Fields
		env.Data = apiErr.Data
	}

	_ = WriteJSON(w, apierr.StatusCode(err), env)
}

// WriteBadRequest writes a 400 failed envelope
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 failed envelope
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a 403 failed envelope
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusForbidden, message)
}

// WriteNotFound writes a 404 failed envelope
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusNotFound, message)
}

// WriteTooManyRequests writes a 429 failed envelope
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusTooManyRequests, message)
}
