package privacy

import (
	"errors"
	"fmt"
)

var (
	// ErrDetectorInvariant reports an edit that overlaps an already recorded finding
	ErrDetectorInvariant = errors.New("detector invariant violation")
	// ErrDocumentMismatch reports findings that do not address the given masked text
	ErrDocumentMismatch = errors.New("document mismatch")
)

// InvariantViolationError describes a substitution that would land inside a
// span recorded by an earlier match. It points at a catalog ordering bug.
type InvariantViolationError struct {
	Category Category
	Edit     Span
	Existing Finding
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("%s: %s match at [%d,%d) overlaps %s finding at [%d,%d)",
		ErrDetectorInvariant, e.Category, e.Edit.Start, e.Edit.End,
		e.Existing.Category, e.Existing.Span.Start, e.Existing.Span.End)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrDetectorInvariant
}

// MismatchKind classifies why a finding could not be restored
type MismatchKind string

const (
	MismatchBounds      MismatchKind = "bounds"
	MismatchOverlap     MismatchKind = "overlap"
	MismatchPlaceholder MismatchKind = "placeholder"
)

// DocumentMismatchError describes a finding that cannot be restored against
// the masked text it was supplied with.
type DocumentMismatchError struct {
	Index   int
	Finding Finding
	Kind    MismatchKind
	Reason  string
}

func (e *DocumentMismatchError) Error() string {
	return fmt.Sprintf("%s: finding %d (%s at [%d,%d)): %s",
		ErrDocumentMismatch, e.Index, e.Finding.Category,
		e.Finding.Span.Start, e.Finding.Span.End, e.Reason)
}

func (e *DocumentMismatchError) Unwrap() error {
	return ErrDocumentMismatch
}
