/*
errors.go - Centralized error types for the reconciliation engine

ERROR CATEGORIES:
  1. Structural input errors - abort the request (InvalidRange, MissingBoundary)
  2. Data-quality anomalies  - NOT errors; reported inline as Unknown events
  3. Reconciliation mismatch - NOT an error; Report.Valid is false

USAGE:
  if errors.Is(err, stock.ErrMissingBoundary) {
      var mb *stock.MissingBoundaryError
      errors.As(err, &mb) // mb.Side tells which snapshot is absent
  }

No error in this package is retryable: the core never retries, retries belong
to the storage layer that fetches raw rows.
*/
package stock

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange is returned for an inverted or unresolvable time window.
	ErrInvalidRange = errors.New("invalid range")

	// ErrMissingBoundary is returned when the opening or closing snapshot is absent.
	ErrMissingBoundary = errors.New("missing boundary snapshot")

	// ErrUnknownEventType marks a record whose code is not in the classification table.
	// It is never returned by Normalize; it is used to annotate Unknown events.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrUnknownType is returned when configuration names an event type that does not exist.
	ErrUnknownType = errors.New("unknown event type name")

	// ErrSourceRequired is returned when a Service has no Source configured.
	ErrSourceRequired = errors.New("record source required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidRangeError describes a malformed window.
type InvalidRangeError struct {
	Start  time.Time
	End    time.Time
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%s, %s]: %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Reason)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// MissingBoundaryError names the snapshot that could not be found.
type MissingBoundaryError struct {
	Item ItemID
	Side Boundary // BoundaryOpening or BoundaryClosing
	At   time.Time
}

func (e *MissingBoundaryError) Error() string {
	rel := "at or before"
	if e.Side == BoundaryClosing {
		rel = "at or after"
	}
	return fmt.Sprintf("missing %s snapshot for item %s %s %s",
		e.Side, e.Item, rel, e.At.Format(time.RFC3339))
}

func (e *MissingBoundaryError) Unwrap() error { return ErrMissingBoundary }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrMissingBoundary)
}
