package core

// error_messages.go maps technical errors to user messages.
//
// Technical errors are mapped to user messages with a code that users can
// quote to support. Codes are grouped by category:
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds maximum size limit (500MB)
//	          Patterns: "file too large"
//	FILE002 - Invalid CSV: File is not a valid CSV
//	          Patterns: "invalid csv"
//	FILE003 - Encoding error: File is not in a supported character set
//	          Patterns: "encoding error"
//	FILE004 - No file: No file was selected
//	          Patterns: "no file provided"
//	FILE005 - Empty file: The uploaded file is empty
//	          Patterns: "empty file"
//	FILE006 - Unsupported type: Only .csv files are accepted
//	          Patterns: "unsupported file type"
//	FILE007 - Missing header: The file has no header row
//	          Patterns: "missing header row"
//	FILE008 - Bad delimiter: The requested delimiter cannot be used
//	          Patterns: "invalid delimiter"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Required field: A product name or SKU is empty
//	         Patterns: "is required"
//	VAL002 - Too long: A product name or SKU is over 255 characters
//	         Patterns: "exceeds 255 characters"
//	VAL003 - SKU mismatch: An update names a different product's SKU
//	         Patterns: "does not match the product"
//	VAL004 - Bad body: A product request body is not valid JSON
//	         Patterns: "invalid request body"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Conflict: Another import created the same SKU at the same time
//	        Patterns: "chunk insert conflicted"
//	DB002 - Duplicate SKU: A product with this SKU already exists
//	        Patterns: "sku key violates unique index", "duplicate key", "unique constraint"
//	DB003 - Product not found
//	        Patterns: "product not found"
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//	DB006 - Busy: Database was busy with conflicting operations
//	        Patterns: "deadlock", "database is locked"
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Job not found: Unknown or expired job id
//	         Patterns: "job not found"
//	JOB002 - Job finished: The job already completed, failed or was cancelled
//	         Patterns: "job already finished"
//	JOB003 - Unknown strategy: The requested import strategy does not exist
//	         Patterns: "unknown import strategy"
//	JOB004 - Dispatcher stopped: The server is shutting down
//	         Patterns: "dispatch pool is closed"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Import cancelled
//	         Patterns: "import cancelled"
//	UPL002 - System busy: Too many imports in progress
//	         Patterns: "too many uploads"
//	UPL003 - Request cancelled
//	         Patterns: "context canceled"
//	UPL004 - Request timeout
//	         Patterns: "context deadline exceeded", "timeout"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the application log for the
// technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// File Errors (FILE001-FILE008)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit (500MB)",
			Action:  "Split the file into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Check quoting and make sure every row ends cleanly",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File is not in a supported character set",
			Action:  "Save the file as UTF-8 or pass a supported encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with a header and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Only .csv files are accepted",
			Action:  "Export the data as CSV and upload again",
			Code:    "FILE006",
		},
	},
	{
		pattern: "missing header row",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Add a header row naming the name, SKU and description columns",
			Code:    "FILE007",
		},
	},
	{
		pattern: "invalid delimiter",
		msg: UserMessage{
			Message: "The delimiter is not supported",
			Action:  "Use a single character such as , ; | or tab, or leave it empty to detect it",
			Code:    "FILE008",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL004)
	// =========================================================================
	{
		pattern: "is required",
		msg: UserMessage{
			Message: "A required product field is empty",
			Action:  "Fill in the name and SKU for every row",
			Code:    "VAL001",
		},
	},
	{
		pattern: "exceeds 255 characters",
		msg: UserMessage{
			Message: "A product field is too long",
			Action:  "Shorten names and SKUs to 255 characters or fewer",
			Code:    "VAL002",
		},
	},
	{
		pattern: "does not match the product",
		msg: UserMessage{
			Message: "The SKU does not match the product being updated",
			Action:  "Send the same SKU as the URL, differing only in case, or omit it",
			Code:    "VAL003",
		},
	},
	{
		pattern: "invalid request body",
		msg: UserMessage{
			Message: "The request body is not a valid product",
			Action:  "Send a JSON object with name, sku and description",
			Code:    "VAL004",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB006)
	// =========================================================================
	{
		pattern: "chunk insert conflicted",
		msg: UserMessage{
			Message: "Another import created the same SKU at the same time",
			Action:  "Run the import again; existing products will be updated",
			Code:    "DB001",
		},
	},
	{
		pattern: "sku key violates unique index",
		msg: UserMessage{
			Message: "A product with this SKU already exists",
			Action:  "SKUs are compared without regard to case or surrounding spaces",
			Code:    "DB002",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A product with this SKU already exists",
			Action:  "SKUs are compared without regard to case or surrounding spaces",
			Code:    "DB002",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A product with this SKU already exists",
			Action:  "SKUs are compared without regard to case or surrounding spaces",
			Code:    "DB002",
		},
	},
	{
		pattern: "product not found",
		msg: UserMessage{
			Message: "Product not found",
			Action:  "Check the SKU and try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB006",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB006",
		},
	},

	// =========================================================================
	// Job Errors (JOB001-JOB004)
	// =========================================================================
	{
		pattern: "job not found",
		msg: UserMessage{
			Message: "Import job not found",
			Action:  "The job id is unknown or its progress has expired",
			Code:    "JOB001",
		},
	},
	{
		pattern: "job already finished",
		msg: UserMessage{
			Message: "The import has already finished",
			Action:  "Only pending or running imports can be cancelled",
			Code:    "JOB002",
		},
	},
	{
		pattern: "unknown import strategy",
		msg: UserMessage{
			Message: "Unknown import strategy",
			Action:  "Use \"chunked\" or \"preload\"",
			Code:    "JOB003",
		},
	},
	{
		pattern: "dispatch pool is closed",
		msg: UserMessage{
			Message: "The server is shutting down",
			Action:  "Please try again in a few moments",
			Code:    "JOB004",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL004)
	// =========================================================================
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "UPL001",
		},
	},
	{
		pattern: "too many uploads",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL004",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. The first
// matching pattern wins; unmatched errors get ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
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

// NewUserError maps err to a UserError. It returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
