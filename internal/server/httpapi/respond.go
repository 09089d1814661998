package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/medkeeper/internal/common"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message, requestID string) {
	WriteJSON(w, status, APIError{Code: code, Message: message, RequestID: requestID})
}

// statusFor maps service errors onto HTTP. Anything unrecognised is a 500
// with no detail.
func statusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, common.ErrPasswordRotationRequired):
		return http.StatusForbidden, "password_rotation_required", "password must be changed before logging in"
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden, "forbidden", "forbidden"
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, common.ErrorConflict):
		return http.StatusConflict, "conflict", "already exists"
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, "bad_request", "invalid input"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := statusFor(err)
	WriteError(w, status, code, msg, RequestID(r.Context()))
}
