package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is:
//   - Logged with full technical details and the request ID (server-side)
//   - Returned as a user-friendly JSON message with an action and a code
//
// The HTTP status is chosen from the user message code, so the status and
// the code a client sees always agree.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"` // Field-level detail for bad requests

	// SessionID names the session a failed upload left in the upload stage.
	SessionID string `json:"sessionId,omitempty"`
}

// codeStatus maps user message codes to HTTP statuses. Codes not listed
// are server errors.
var codeStatus = map[string]int{
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusBadRequest,
	"FILE003": http.StatusBadRequest,
	"CAT001":  http.StatusNotFound,
	"MAP001":  http.StatusBadRequest,
	"MAP002":  http.StatusBadRequest,
	"MAP003":  http.StatusNotFound,
	"MAP004":  http.StatusNotImplemented,
	"MAP005":  http.StatusConflict,
	"SES001":  http.StatusNotFound,
	"SES002":  http.StatusConflict,
	"IMP001":  http.StatusUnprocessableEntity,
	"IMP002":  http.StatusConflict,
	"IMP003":  http.StatusConflict,
	"IMP004":  http.StatusBadGateway,
	"IMP005":  http.StatusConflict,
	"IMP006":  http.StatusServiceUnavailable,
	"DB001":   http.StatusConflict,
	"DB002":   http.StatusServiceUnavailable,
	"DB003":   http.StatusGatewayTimeout,
	"RATE001": http.StatusTooManyRequests,
}

// statusFor returns the HTTP status for a user message.
func statusFor(msg core.UserMessage) int {
	if status, ok := codeStatus[msg.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// badRequest is a malformed request body or parameter. Its text is safe to
// show to the client.
type badRequest struct {
	detail string
}

func (e *badRequest) Error() string { return e.detail }

func newBadRequest(detail string) error { return &badRequest{detail: detail} }

// sessionError ties an error to the session it happened in.
type sessionError struct {
	sessionID string
	err       error
}

func (e *sessionError) Error() string { return e.err.Error() }

func (e *sessionError) Unwrap() error { return e.err }

// respondError logs the technical error and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		msg    core.UserMessage
		status int
		detail string
	)

	var br *badRequest
	if errors.As(err, &br) {
		msg = core.UserMessage{
			Message: "The request could not be understood",
			Action:  "Check the request body and parameters",
			Code:    "REQ001",
		}
		status = http.StatusBadRequest
		detail = br.detail
	} else {
		msg = core.MapError(err)
		status = statusFor(msg)
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}

	var sessionID string
	var se *sessionError
	if errors.As(err, &se) {
		sessionID = se.sessionID
		attrs = append(attrs, "session_id", sessionID)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Detail:  detail,

		SessionID: sessionID,
	})
}
