package importer

// Error codes shown to users, quoted back to support for diagnosis.
//
//	DB001-DB007    database constraint and connectivity errors
//	VAL001-VAL007  field validation errors, also used as FieldFailure codes
//	FILE001-FILE006 file handling and parsing errors
//	IMP001-IMP006  import run errors
//	TBL001-TBL002  table configuration errors
//	ERR000         anything else; check the logs for the technical error
//
// Typed errors are classified first (PostgreSQL SQLSTATE codes, the import
// sentinels); everything else is matched case-insensitively against
// errorPatterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/recimport/internal/core"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgDuplicateKey = UserMessage{"A record with this ID already exists", "Download failed rows to review duplicates", "DB001"}
	msgUnique       = UserMessage{"A duplicate value was found", "Check for duplicate entries in your CSV", "DB002"}
	msgForeignKey   = UserMessage{"Referenced record does not exist", "Ensure parent records are imported first", "DB003"}
	msgNoDatabase   = UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}
	msgConnReset    = UserMessage{"Database connection was interrupted", "Please try again", "DB005"}
	msgTimeout      = UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}
	msgDeadlock     = UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}

	msgCancelled  = UserMessage{"Import was cancelled", "Nothing was saved. Start a new import when ready", "IMP001"}
	msgBusy       = UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP002"}
	msgNotFound   = UserMessage{"Import run not found", "The run may have expired. Start a new import", "IMP003"}
	msgInProgress = UserMessage{"This import is already running", "Wait for it to finish", "IMP004"}
	msgRejected   = UserMessage{"Some records were rejected, nothing was saved", "Download the failure report, fix the rows and import again", "IMP005"}
	msgRollback   = UserMessage{"Import failed and could not be fully undone", "Contact support before retrying", "IMP006"}
	msgNoJob      = UserMessage{"Import job not found", "Check the job name against the configured jobs", "IMP007"}

	// defaultMessage is the ERR000 fallback.
	defaultMessage = UserMessage{"An unexpected error occurred", "Please try again or contact support", "ERR000"}
)

// sqlStates maps PostgreSQL error codes to messages.
var sqlStates = map[string]UserMessage{
	"23505": msgDuplicateKey,
	"23503": msgForeignKey,
	"40P01": msgDeadlock,
	"57014": msgTimeout,
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is ordered specific before general.
var errorPatterns = []errorPattern{
	{"duplicate key", msgDuplicateKey},
	{"unique constraint", msgUnique},
	{"violates unique", msgUnique},
	{"foreign key", msgForeignKey},
	{"connection refused", msgNoDatabase},
	{"connection reset", msgConnReset},
	{"deadlock", msgDeadlock},
	{"header row not found", UserMessage{"Header row not found", "Check that the file has the table's column headers", "FILE005"}},

	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Remove currency symbols and use standard decimal format", "VAL002"}},
	{"required field", UserMessage{"Required field is empty", "Ensure all required columns have values", "VAL003"}},
	{"missing required column", UserMessage{"Required column is missing from CSV", "Check that all required columns are present in your file", "VAL004"}},
	{"column not found", UserMessage{"Expected column not found", "Verify column names match the table definition", "VAL005"}},
	{"invalid enum", UserMessage{"Value is not in the allowed list", "Check the allowed values for this field", "VAL006"}},
	{"invalid boolean", UserMessage{"Invalid yes/no value", "Use yes/no, true/false or 1/0", "VAL007"}},

	{"file too large", UserMessage{"File exceeds maximum size limit", "Split the file into smaller chunks", "FILE001"}},
	{"invalid csv", UserMessage{"File is not a valid CSV", "Ensure file is comma-separated with consistent quoting", "FILE002"}},
	{"encoding error", UserMessage{"File contains invalid characters", "Save file as UTF-8 or pick the matching encoding", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a CSV file to import", "FILE004"}},
	{"empty file", UserMessage{"The file is empty", "Please import a CSV file with data rows", "FILE005"}},
	{"too few columns", UserMessage{"Row has fewer columns than the header", "Check for truncated rows", "FILE006"}},

	{"context canceled", msgCancelled},
	{"timeout", msgTimeout},
	{"deadline exceeded", msgTimeout},

	{"unknown table", UserMessage{"Unknown table type", "This table type is not configured", "TBL002"}},
	{"table not found", UserMessage{"Table not found", "Verify the table name is correct", "TBL001"}},
	{"does not exist", UserMessage{"Table not found", "Verify the table name is correct", "TBL001"}},
}

// MapError converts a technical error to a user-friendly message. It returns
// the zero UserMessage for a nil error and ERR000 when nothing matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStates[pgErr.Code]; ok {
			return msg
		}
	}

	var abort *core.AbortError
	switch {
	case errors.As(err, &abort):
		return msgRollback
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, core.ErrCancelled):
		return msgCancelled
	case errors.Is(err, ErrTooManyImports):
		return msgBusy
	case errors.Is(err, ErrRunNotFound):
		return msgNotFound
	case errors.Is(err, ErrJobNotFound):
		return msgNoJob
	case errors.Is(err, core.ErrRunInProgress):
		return msgInProgress
	case errors.Is(err, core.ErrImportFailed):
		return msgRejected
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }

func (e *UserError) Unwrap() error { return e.Technical }

// NewUserError maps err. It returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
