package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Database not found        Patterns: "database not found"
//	DB002 - Table not found           Patterns: "table not found", "no such table"
//	DB003 - Row not found             Patterns: "row not found"
//	DB004 - Database locked           Patterns: "database is locked"
//	DB005 - Read-only database        Patterns: "readonly database"
//	DB006 - Connection refused        Patterns: "connection refused"
//
// # Query Errors (SQL001-SQL099)
//
//	SQL001 - Syntax error             Patterns: "syntax error"
//	SQL002 - Unknown column           Patterns: "no such column", "does not exist"
//	SQL003 - Not a SELECT             Patterns: "statement must be a select"
//	SQL004 - Query interrupted        Patterns: "interrupted", "took too long"
//	SQL005 - Custom SQL disabled      Patterns: "sql= is not allowed"
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Streaming disabled       Patterns: "csv streaming is disabled"
//	EXP002 - Conflicting cursor       Patterns: "_next not allowed"
//	EXP003 - Export too large         Patterns: "csv contains more than"
//	EXP004 - Too many exports         Patterns: "too many concurrent exports"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Invalid shape            Patterns: "invalid _shape"
//	REQ002 - Request cancelled        Patterns: "context canceled"
//	RATE001 - Rate limited            Patterns: "rate limit"
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.
// ERR000 is the fallback when nothing matches.

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
	// Database Errors (DB001-DB006)
	// =========================================================================
	{
		pattern: "database not found",
		msg: UserMessage{
			Message: "Database not found",
			Action:  "Check the database name in the URL",
			Code:    "DB001",
		},
	},
	{
		pattern: "table not found",
		msg: UserMessage{
			Message: "Table not found",
			Action:  "Check the table name in the URL",
			Code:    "DB002",
		},
	},
	{
		pattern: "no such table",
		msg: UserMessage{
			Message: "Table not found",
			Action:  "Check the table name in your query",
			Code:    "DB002",
		},
	},
	{
		pattern: "row not found",
		msg: UserMessage{
			Message: "Row not found",
			Action:  "The record may have been removed",
			Code:    "DB003",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database is busy",
			Action:  "Please try again in a moment",
			Code:    "DB004",
		},
	},
	{
		pattern: "readonly database",
		msg: UserMessage{
			Message: "This database is read-only",
			Action:  "Writes are only accepted by mutable databases",
			Code:    "DB005",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB006",
		},
	},

	// =========================================================================
	// Query Errors (SQL001-SQL005)
	// =========================================================================
	{
		pattern: "syntax error",
		msg: UserMessage{
			Message: "The SQL query has a syntax error",
			Action:  "Review the query text",
			Code:    "SQL001",
		},
	},
	{
		pattern: "no such column",
		msg: UserMessage{
			Message: "Unknown column",
			Action:  "Check the column names in your query",
			Code:    "SQL002",
		},
	},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "Unknown table or column",
			Action:  "Check the names in your query",
			Code:    "SQL002",
		},
	},
	{
		pattern: "statement must be a select",
		msg: UserMessage{
			Message: "Only SELECT statements are allowed",
			Action:  "Rewrite the query as a SELECT",
			Code:    "SQL003",
		},
	},
	{
		pattern: "interrupted",
		msg: UserMessage{
			Message: "SQL query took too long",
			Action:  "Simplify the query or raise sql_time_limit_ms",
			Code:    "SQL004",
		},
	},
	{
		pattern: "took too long",
		msg: UserMessage{
			Message: "SQL query took too long",
			Action:  "Simplify the query or raise sql_time_limit_ms",
			Code:    "SQL004",
		},
	},
	{
		pattern: "sql= is not allowed",
		msg: UserMessage{
			Message: "Custom SQL is disabled",
			Action:  "Use a table view or a canned query",
			Code:    "SQL005",
		},
	},

	// =========================================================================
	// Export Errors (EXP001-EXP004)
	// =========================================================================
	{
		pattern: "csv streaming is disabled",
		msg: UserMessage{
			Message: "Streaming CSV export is disabled",
			Action:  "Export one page at a time instead",
			Code:    "EXP001",
		},
	},
	{
		pattern: "_next not allowed",
		msg: UserMessage{
			Message: "A full export cannot start from a cursor",
			Action:  "Remove _next or _stream from the URL",
			Code:    "EXP002",
		},
	},
	{
		pattern: "csv contains more than",
		msg: UserMessage{
			Message: "Export exceeded the maximum size",
			Action:  "Filter the data to export fewer rows",
			Code:    "EXP003",
		},
	},
	{
		pattern: "too many concurrent exports",
		msg: UserMessage{
			Message: "Too many exports are running",
			Action:  "Please wait a moment and try again",
			Code:    "EXP004",
		},
	},

	// =========================================================================
	// Request Errors (REQ001-REQ002, RATE001)
	// =========================================================================
	{
		pattern: "invalid _shape",
		msg: UserMessage{
			Message: "Unknown JSON shape",
			Action:  "Use _shape=arrays, objects, array or object",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, ERR000 is returned.
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

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
