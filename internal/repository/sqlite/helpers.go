package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"nbsync/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt stores a bool as 0 or 1
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// Time Helpers
// ============================================================================

// formatTime stores times as sortable UTC text
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// parseTime reads a column written by formatTime
func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ============================================================================
// Outcome Helpers
// ============================================================================

// outcomeKind renders the outcome's kind, falling back to the batch name
func outcomeKind(o domain.EntityOutcome, batch string) string {
	if o.Kind != "" {
		return string(o.Kind)
	}
	return batch
}

// joinNotes flattens outcome notes into one column
func joinNotes(notes []string) string {
	return strings.Join(notes, "; ")
}
