package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// Common error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	ErrCodeStoreFailure       = "STORE_FAILURE"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrCodeRequestCanceled    = "REQUEST_CANCELED"
)

// StatusClientClosedRequest is written when the caller went away first.
const StatusClientClosedRequest = 499

// HTTPStatusFromError maps pipeline errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromError returns the envelope code for err.
func ErrorCodeFromError(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return ErrCodeValidationFailed
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, apperrors.ErrStore):
		return ErrCodeStoreFailure
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeGatewayTimeout
	case errors.Is(err, context.Canceled):
		return ErrCodeRequestCanceled
	default:
		return ErrCodeInternalServer
	}
}

// HandleError writes the envelope for err. Validation failures carry the
// offending field; store and unknown failures hide their cause.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	code := ErrorCodeFromError(err)

	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		details := map[string]interface{}{"field": verr.Field}
		if verr.Value != nil {
			details["value"] = verr.Value
		}
		ErrorWithDetails(w, status, code, verr.Error(), details, requestID)
	case status == http.StatusInternalServerError:
		Error(w, status, code, "internal error", requestID)
	default:
		Error(w, status, code, err.Error(), requestID)
	}
}
