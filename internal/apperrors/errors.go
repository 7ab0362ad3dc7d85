// Package apperrors defines the error taxonomy shared by the browser, the
// transfer engine and every store backend.
//
// Four kinds of failure are distinguished:
//
//   - TransientNetworkError: a remote call failed. Callers retry the whole
//     user action, never a single step of a pipeline.
//   - ValidationError: an input was rejected locally before any remote call.
//   - PartialBatchFailure: some items of a multi-item operation failed while
//     others succeeded. Succeeded items are kept.
//   - EnumerationFailure: listing a folder failed while assembling an archive.
//     The archive is not produced.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when an ID does not resolve to an item.
	ErrNotFound = errors.New("item not found")

	// ErrEmptyFolder is returned when an archive is requested for a folder with no files.
	ErrEmptyFolder = errors.New("folder contains no files")

	// ErrStale marks a listing result that was superseded by a newer navigation.
	ErrStale = errors.New("listing result superseded by newer navigation")
)

// TransientNetworkError wraps any failed call to the remote store.
type TransientNetworkError struct {
	Op         string // e.g. "list", "upload", "fetch"
	StatusCode int    // HTTP status when known, 0 otherwise
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// NewTransient wraps err as a TransientNetworkError unless it already is one,
// is a not-found error, or is nil.
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientNetworkError
	if errors.As(err, &te) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &TransientNetworkError{Op: op, Err: err}
}

// ValidationError is a local, synchronous rejection (oversized file,
// disallowed MIME type, disallowed preview type).
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ItemError records the failure of one item inside a batch.
type ItemError struct {
	Name string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

// PartialBatchFailure summarizes a multi-item operation in which at least one
// item failed. It is a report, not a rollback signal.
type PartialBatchFailure struct {
	Operation string
	Succeeded int
	Failed    int
	Errors    []ItemError
}

func (e *PartialBatchFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d succeeded, %d failed", e.Operation, e.Succeeded, e.Failed)
	for i, ie := range e.Errors {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Errors)-3)
			break
		}
		b.WriteString("; ")
		b.WriteString(ie.Error())
	}
	return b.String()
}

// EnumerationFailure is fatal for the archive operation that hit it.
type EnumerationFailure struct {
	FolderID string
	Err      error
}

func (e *EnumerationFailure) Error() string {
	return fmt.Sprintf("cannot enumerate folder %q: %v", e.FolderID, e.Err)
}

func (e *EnumerationFailure) Unwrap() error { return e.Err }

// ListingUnavailableError is returned when a page listing or cursor walk fails.
type ListingUnavailableError struct {
	FolderID string
	Page     int
	Err      error
}

func (e *ListingUnavailableError) Error() string {
	return fmt.Sprintf("listing unavailable for folder %q page %d: %v", e.FolderID, e.Page, e.Err)
}

func (e *ListingUnavailableError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientNetworkError.
func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPartial reports whether err is (or wraps) a PartialBatchFailure.
func IsPartial(err error) bool {
	var pe *PartialBatchFailure
	return errors.As(err, &pe)
}
