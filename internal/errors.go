package internal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRunInProgress rejects a second concurrent run for the same supplier.
var ErrRunInProgress = errors.New("run already in progress for supplier")

// SourceUnavailableError means the raw document could not be fetched.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SourceFormatError means the document was retrieved but has an unexpected shape.
// Found lists the worksheet/table/attachment names that were present.
type SourceFormatError struct {
	Source string
	Reason string
	Found  []string
}

func (e *SourceFormatError) Error() string {
	msg := fmt.Sprintf("source format error: %s: %s", e.Source, e.Reason)
	if len(e.Found) > 0 {
		msg += " (found: " + strings.Join(e.Found, ", ") + ")"
	}
	return msg
}

// RuleMissingError means no usable extraction rule set exists for the supplier.
type RuleMissingError struct {
	Supplier string
	Reason   string
}

func (e *RuleMissingError) Error() string {
	return fmt.Sprintf("no extraction rules for supplier %s: %s", e.Supplier, e.Reason)
}

// ReconciliationError aborts the whole batch for a supplier.
type ReconciliationError struct {
	Supplier string
	Err      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed for supplier %s: %v", e.Supplier, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// NormalizationWarning is non-fatal: the field is stored as null.
type NormalizationWarning struct {
	Row   int
	Field ColumnRole
	Raw   string
}

func (w NormalizationWarning) String() string {
	return fmt.Sprintf("row %d: cannot parse %s from %q", w.Row+1, w.Field, w.Raw)
}
