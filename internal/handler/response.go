package handler

import (
	"encoding/json"
	"net/http"

	"marketplace/internal/apperror"
	"marketplace/internal/util"
)

// Response is the uniform envelope returned by every endpoint.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode response", util.ErrorField(err))
	}
}

func respondSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// respondError maps a service error to its transport status. Internal causes
// are logged, never echoed to the client.
func respondError(w http.ResponseWriter, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		util.Error("Request failed", util.ErrorField(err))
	}
	writeJSON(w, apperror.HTTPStatus(err), Response{
		Success: false,
		Error:   string(apperror.KindOf(err)),
		Message: apperror.MessageOf(err),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, apperror.Validation("Invalid request body."))
		return false
	}
	return true
}
