package app

import (
	"errors"
	"net/http"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/auth"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindPermissionDenied: http.StatusForbidden,
	apperr.KindInvalidReference: http.StatusNotFound,
	apperr.KindConflict:         http.StatusConflict,
	apperr.KindStoreUnavailable: http.StatusServiceUnavailable,
	apperr.KindMalformedInput:   http.StatusUnprocessableEntity,
	apperr.KindUnauthorized:     http.StatusUnauthorized,
}

// mapError turns a service error into the HTTP status and the code,
// message and details clients see. Unknown errors are not leaked.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		status, ok := kindStatus[domainErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, string(domainErr.Kind), domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, string(apperr.KindUnauthorized), "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// wireError is the error object of a failed websocket ack.
type wireError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func toWireError(err error) *wireError {
	_, code, message, details := mapError(err)
	return &wireError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: apperr.KindOf(err) == apperr.KindStoreUnavailable,
	}
}
