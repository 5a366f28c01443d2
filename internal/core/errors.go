package core

// # Error Codes Reference
//
// User-facing errors carry a code that users can quote to support staff.
// Codes are grouped by category:
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Unreadable: the file is not a readable spreadsheet or delimited text
//	SRC002 - Too large: the file or one of its sheets exceeds the size limit
//	SRC003 - Invalid structure: fewer than 3 columns or no data rows
//	SRC004 - Unknown sheet: the requested sheet is not in the file
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Conflict: two columns mapped to the same single-value field
//	MAP002 - Unknown column: the mapping names a column the sheet lacks
//	MAP003 - Malformed mapping: the mapping is not a JSON object of column to field
//
// # Row Errors (ROW001-ROW099)
//
//	ROW001 - Date: a date cell matched no known layout
//	ROW002 - Amount: an amount cell is not a number
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Busy: every import slot is taken
//	IMP002 - Not found: unknown or expired import job
//	IMP003 - Cancelled: the import was cancelled
//	IMP004 - Timeout: the import or request ran out of time
//	IMP005 - No file: the request carried no file
//
// # Database Errors (DB001-DB099)
//
// Matched on PostgreSQL SQLSTATE when available, else on message text.
//
//	DB001 - Duplicate: a record with this key already exists (23505)
//	DB002 - Reference: a referenced record does not exist (23503)
//	DB003 - Connection refused
//	DB004 - Connection reset
//	DB005 - Deadlock (40P01)
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests from this client
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/finimport/internal/ingest"
)

var (
	// ErrJobNotFound is returned for unknown or expired job IDs.
	ErrJobNotFound = errors.New("import job not found")

	// ErrImportCancelled is the cause recorded on cancelled jobs.
	ErrImportCancelled = errors.New("import cancelled")

	// ErrNoFile is returned when a request carries no file content.
	ErrNoFile = errors.New("no file provided")

	// ErrRateLimited is returned by the web layer when a client is throttled.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorTarget maps a sentinel or typed error, matched with errors.Is/As.
type errorTarget struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func as[T error]() func(error) bool {
	return func(err error) bool {
		var t T
		return errors.As(err, &t)
	}
}

// errorTargets is checked first, in order.
var errorTargets = []errorTarget{
	{is(ingest.ErrSourceTooLarge), UserMessage{
		Message: "The file is too large to import",
		Action:  "Split the file into smaller files of at most 100,000 rows",
		Code:    "SRC002",
	}},
	{is(ingest.ErrSourceUnreadable), UserMessage{
		Message: "The file could not be read",
		Action:  "Upload an .xlsx workbook or a CSV file saved as UTF-8",
		Code:    "SRC001",
	}},
	{is(ingest.ErrSourceStructureInvalid), UserMessage{
		Message: "The sheet does not look like a transaction table",
		Action:  "Make sure the sheet has a header row, at least 3 columns and some data rows",
		Code:    "SRC003",
	}},
	{is(ingest.ErrSheetNotFound), UserMessage{
		Message: "The selected sheet was not found in the file",
		Action:  "Probe the file again and pick one of the listed sheets",
		Code:    "SRC004",
	}},
	{is(ingest.ErrMappingConflict), UserMessage{
		Message: "More than one column is mapped to the same field",
		Action:  "Map each of date, amount, description and currency to a single column",
		Code:    "MAP001",
	}},
	{is(ingest.ErrUnknownColumn), UserMessage{
		Message: "The mapping refers to a column that is not in the sheet",
		Action:  "Check the column names in your mapping against the preview",
		Code:    "MAP002",
	}},
	{as[*ingest.DateParseError](), UserMessage{
		Message: "Invalid date format detected",
		Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
		Code:    "ROW001",
	}},
	{as[*ingest.AmountParseError](), UserMessage{
		Message: "Invalid amount format detected",
		Action:  "Use plain numbers such as 1234.56 or (1,234.56) for negatives",
		Code:    "ROW002",
	}},
	{is(ErrTooManyImports), UserMessage{
		Message: "Too many imports in progress",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
	}},
	{is(ErrJobNotFound), UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. Please start a new import",
		Code:    "IMP002",
	}},
	{is(ErrImportCancelled), UserMessage{
		Message: "The import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP003",
	}},
	{is(context.Canceled), UserMessage{
		Message: "The request was cancelled",
		Action:  "Please try again",
		Code:    "IMP003",
	}},
	{is(context.DeadlineExceeded), UserMessage{
		Message: "The operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "IMP004",
	}},
	{is(ErrNoFile), UserMessage{
		Message: "No file was provided",
		Action:  "Select a spreadsheet or CSV file to upload",
		Code:    "IMP005",
	}},
	{is(ErrRateLimited), UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// sqlStateMessages maps PostgreSQL error codes.
var sqlStateMessages = map[string]UserMessage{
	"23505": {
		Message: "A record with this key already exists",
		Action:  "Check whether this file was imported before",
		Code:    "DB001",
	},
	"23503": {
		Message: "Referenced record does not exist",
		Action:  "Please try again or contact support",
		Code:    "DB002",
	},
	"40P01": {
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB005",
	},
}

// errorPattern matches the technical message case-insensitively.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is the fallback for errors without a typed cause, such as
// driver errors wrapped as text. The first matching pattern wins.
var errorPatterns = []errorPattern{
	{"duplicate key", sqlStateMessages["23505"]},
	{"violates foreign key", sqlStateMessages["23503"]},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"deadlock", sqlStateMessages["40P01"]},
	{"timeout", UserMessage{
		Message: "The operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "IMP004",
	}},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.User
	}

	for _, t := range errorTargets {
		if t.match(err) {
			return t.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStateMessages[pgErr.Code]; ok {
			return msg
		}
	}

	text := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(text, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with the message shown to users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError wraps err with its mapped message. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
