// Error Codes Reference
//
// User-facing errors carry a short code that users can quote to support.
// Codes are grouped by category:
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - File appears empty or has no data rows
//	FILE003 - No file was provided
//
// # Catalog Errors (CAT001-CAT099)
//
//	CAT001 - Unknown resource type
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Mapping names a field the resource type does not have
//	MAP002 - Mapping names a column the file does not have
//	MAP003 - Saved mapping not found
//	MAP004 - Saved mappings are not available
//	MAP005 - A saved mapping with that name already exists
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found or expired
//	SES002 - Step not allowed at the session's current stage
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - No valid rows to import
//	IMP002 - Import already running
//	IMP003 - Nothing to retry
//	IMP004 - Batch failed to reach the target
//	IMP005 - Import cancelled
//	IMP006 - Too many imports in progress
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate record
//	DB002 - Connection refused
//	DB003 - Timeout
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check application logs for the
// technical error.
//
// Known sentinel errors are matched first with errors.Is/As; the pattern
// table is the fallback for errors from drivers and remote services.

package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/importer"
	"github.com/JonMunkholm/ResourceImport/internal/mapping"
	"github.com/JonMunkholm/ResourceImport/internal/parser"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

var (
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	}
	msgEmptyFile = UserMessage{
		Message: "File appears empty or invalid",
		Action:  "Upload a CSV or TSV file with a header row and at least one data row",
		Code:    "FILE002",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE003",
	}
	msgUnknownType = UserMessage{
		Message: "Unknown resource type",
		Action:  "Choose one of the listed resource types",
		Code:    "CAT001",
	}
	msgUnknownField = UserMessage{
		Message: "The mapping names a field this resource type does not have",
		Action:  "Reload the field list and map again",
		Code:    "MAP001",
	}
	msgUnknownHeader = UserMessage{
		Message: "The mapping names a column that is not in the file",
		Action:  "Pick a column from the uploaded file",
		Code:    "MAP002",
	}
	msgPresetNotFound = UserMessage{
		Message: "Saved mapping not found",
		Action:  "It may have been deleted. Map the columns manually",
		Code:    "MAP003",
	}
	msgPresetsDisabled = UserMessage{
		Message: "Saved mappings are not available on this server",
		Action:  "Map the columns manually",
		Code:    "MAP004",
	}
	msgSessionNotFound = UserMessage{
		Message: "Import session not found",
		Action:  "The session may have expired. Please start a new import",
		Code:    "SES001",
	}
	msgInvalidTransition = UserMessage{
		Message: "That step is not available right now",
		Action:  "Refresh the page to see where the import stands",
		Code:    "SES002",
	}
	msgNoValidRows = UserMessage{
		Message: "There are no valid rows to import",
		Action:  "Fix the reported errors and validate again",
		Code:    "IMP001",
	}
	msgImportRunning = UserMessage{
		Message: "An import is already running for this session",
		Action:  "Wait for it to finish",
		Code:    "IMP002",
	}
	msgNotRetryable = UserMessage{
		Message: "There is no failed import to retry",
		Action:  "Start a new import instead",
		Code:    "IMP003",
	}
	msgTransport = UserMessage{
		Message: "A batch could not be saved",
		Action:  "Rows before the failed batch are already saved. Use Retry to continue instead of uploading the file again",
		Code:    "IMP004",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Rows saved before cancelling were kept",
		Code:    "IMP005",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP006",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
)

// sentinels are checked in order with errors.Is.
var sentinels = []struct {
	err error
	msg UserMessage
}{
	{parser.ErrFileTooLarge, msgFileTooLarge},
	{parser.ErrEmptyFile, msgEmptyFile},
	{ErrNoFile, msgNoFile},
	{catalog.ErrUnknownResourceType, msgUnknownType},
	{mapping.ErrUnknownField, msgUnknownField},
	{mapping.ErrUnknownHeader, msgUnknownHeader},
	{ErrPresetNotFound, msgPresetNotFound},
	{ErrPresetsDisabled, msgPresetsDisabled},
	{ErrSessionNotFound, msgSessionNotFound},
	{ErrInvalidTransition, msgInvalidTransition},
	{ErrNoValidRows, msgNoValidRows},
	{importer.ErrNothingToImport, msgNoValidRows},
	{ErrImportInProgress, msgImportRunning},
	{ErrNotRetryable, msgNotRetryable},
	{importer.ErrCancelled, msgCancelled},
	{ErrTooManyImports, msgBusy},
}

// errorPattern maps a lower-case substring of a technical error to a message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is matched case-insensitively with strings.Contains. The
// first match wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "saved mapping with this name already exists",
		msg: UserMessage{
			Message: "A saved mapping with this name already exists",
			Action:  "Choose a different name",
			Code:    "MAP005",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this URL already exists",
			Action:  "Remove duplicate rows and retry",
			Code:    "DB001",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A record with this URL already exists",
			Action:  "Remove duplicate rows and retry",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the import target",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB003",
		},
	},
	{pattern: "rate limit", msg: msgRateLimited},
	{pattern: "too many requests", msg: msgRateLimited},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// A failed batch keeps its own code even when the underlying cause matches
// a pattern, and the cause is appended to the message so users see which
// batch failed.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var te *importer.TransportError
	if errors.As(err, &te) {
		msg := msgTransport
		msg.Message = fmt.Sprintf("Batch %d of %d could not be saved (%s)", te.Batch, te.TotalBatches, mapCause(te.Err).Message)
		return msg
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}
	return mapCause(err)
}

func mapCause(err error) UserMessage {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a display string: "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
