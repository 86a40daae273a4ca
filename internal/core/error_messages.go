package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. When users report a code, support can look it up
// here to see what triggered it and what to advise.
//
// Error codes are grouped by category:
//
//	FEED001-FEED099  remote feed fetching and parsing
//	CFG001-CFG099    sheet and feed configuration
//	IMP001-IMP099    the import process and session management
//	DB001-DB099      database operations
//	RATE001          request throttling
//	SYS001           fallback for anything unrecognized
//
// Typed errors from the cellfeed package are mapped first via errors.As;
// everything else goes through case-insensitive substring matching, first
// match wins, so more specific patterns are listed before general ones.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sheetfeed/sheetfeed/internal/cellfeed"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Code for support reference
}

// errorPattern pairs a substring to match with its user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is the fallback table for errors that carry no known type.
// Matched case-insensitively with strings.Contains; first match wins.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Errors (IMP001-IMP004)
	// =========================================================================
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "unknown sheet",
		msg: UserMessage{
			Message: "The requested sheet is not configured",
			Action:  "Check the sheet key against the configured sheet list",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import not found",
			Action:  "The import may have expired. Start a new import",
			Code:    "IMP003",
		},
	},
	{
		pattern: "import already rolled back",
		msg: UserMessage{
			Message: "This import has already been rolled back",
			Action:  "No further action is needed",
			Code:    "IMP004",
		},
	},
	{
		pattern: "import still running",
		msg: UserMessage{
			Message: "This import is still running",
			Action:  "Cancel the import first, or wait for it to finish",
			Code:    "IMP004",
		},
	},

	// =========================================================================
	// Configuration Errors (CFG001-CFG002)
	// =========================================================================
	{
		pattern: "sheets file",
		msg: UserMessage{
			Message: "The sheet configuration file could not be loaded",
			Action:  "Check SHEETS_FILE for syntax errors and duplicate keys",
			Code:    "CFG002",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Check the import history for a conflicting import",
			Code:    "DB002",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "no rows in result set",
		msg: UserMessage{
			Message: "No matching record was found",
			Action:  "Verify the sheet has at least one completed import",
			Code:    "DB002",
		},
	},

	// =========================================================================
	// Timeouts and Cancellation (IMP005-IMP006)
	// Listed after the database patterns so pgx timeout messages match above.
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The operation was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "The worksheet may be very large. Try again or raise IMPORT_TIMEOUT",
			Code:    "IMP006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Please try again later",
			Code:    "IMP006",
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

// defaultMessage is the SYS001 fallback. Support staff should check the
// application logs for the original technical error when users report it.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "SYS001",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors from the feed adapter are recognized first; everything else
// falls through to the pattern table, then to SYS001.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var fetchErr *cellfeed.FetchError
	if errors.As(err, &fetchErr) {
		lower := strings.ToLower(fetchErr.Message)
		timedOut := strings.Contains(lower, "deadline exceeded") ||
			strings.Contains(lower, "timeout") ||
			strings.Contains(lower, "timed out")
		switch {
		case fetchErr.Status == 0 && timedOut:
			return UserMessage{
				Message: "The remote sheet took too long to respond",
				Action:  "Try again, or raise FEED_TIMEOUT for large worksheets",
				Code:    "FEED003",
			}
		case fetchErr.Status == 0:
			return UserMessage{
				Message: "Could not reach the remote sheet",
				Action:  "Check network connectivity and the feed key",
				Code:    "FEED004",
			}
		case fetchErr.Status == 404:
			return UserMessage{
				Message: "The remote sheet or worksheet was not found",
				Action:  "Verify the feed key, worksheet index, and that the sheet is published",
				Code:    "FEED001",
			}
		default:
			return UserMessage{
				Message: fmt.Sprintf("The remote sheet returned an error (HTTP %d)", fetchErr.Status),
				Action:  "Verify the sheet is published to the web and try again",
				Code:    "FEED001",
			}
		}
	}

	var parseErr *cellfeed.ParseError
	if errors.As(err, &parseErr) {
		return UserMessage{
			Message: "The remote sheet returned an unreadable feed",
			Action:  "Verify the sheet is published as a cell feed and try again",
			Code:    "FEED002",
		}
	}

	var cfgErr *cellfeed.ConfigError
	if errors.As(err, &cfgErr) {
		return UserMessage{
			Message: "The sheet's feed configuration is invalid",
			Action:  "Fix the sheet definition: " + cfgErr.Reason,
			Code:    "CFG001",
		}
	}

	if errors.Is(err, ErrTooManyImports) {
		return UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error maps to a specific known message
// rather than the SYS001 fallback. Callers can use it to decide between
// showing the mapped message and logging the raw error.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
