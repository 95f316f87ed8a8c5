package assetpreview

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	// ErrCacheMiss is returned when no cache entry exists for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrAssetNotFound is returned when the asset file cannot be resolved at request time.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrQueueOverflow is returned when the queue is bounded and full.
	ErrQueueOverflow = errors.New("generation queue overflow")

	// ErrClosed is returned for requests made after the Previewer was closed.
	ErrClosed = errors.New("previewer closed")

	// ErrCancelled is reported to a handle whose job was removed before it ran.
	ErrCancelled = errors.New("job cancelled")

	// ErrInvalidSize is returned when a thumbnail is requested with a non-positive dimension.
	ErrInvalidSize = errors.New("invalid thumbnail size")

	// ErrHostUnavailable is reported when tier-2 work is requested without a host.
	ErrHostUnavailable = errors.New("host unavailable")

	// ErrObjectNotFound is returned by hosts for refs that do not exist.
	// Cleanup treats it as already removed.
	ErrObjectNotFound = errors.New("object not found")
)

// ImportFailure reports that asset content could not be loaded into the host.
type ImportFailure struct {
	Path string
	Err  error
}

func (e *ImportFailure) Error() string {
	return fmt.Sprintf("import %s: %v", e.Path, e.Err)
}

func (e *ImportFailure) Unwrap() error { return e.Err }

// CaptureFailure reports that a capture step failed.
type CaptureFailure struct {
	Step string
	Err  error
}

func (e *CaptureFailure) Error() string {
	return fmt.Sprintf("capture (%s): %v", e.Step, e.Err)
}

func (e *CaptureFailure) Unwrap() error { return e.Err }

// CleanupResidue lists objects that survived every cleanup fallback.
// It is a warning: the job that produced it still completes.
type CleanupResidue struct {
	Session     string
	Residue     []Ref
	Quarantined bool
	Errors      []error
}

// Error implements the error interface.
func (cr *CleanupResidue) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "cleanup of session %s left %d object(s)", cr.Session, len(cr.Residue))
	if cr.Quarantined {
		buf.WriteString(" (quarantined)")
	}
	for i, ref := range cr.Residue {
		fmt.Fprintf(&buf, "\n  %d. %s", i+1, ref)
	}
	return buf.String()
}

// Unwrap returns the underlying phase errors for use with errors.Is and errors.As.
func (cr *CleanupResidue) Unwrap() []error {
	return cr.Errors
}

// ExtractionPartial reports metadata fields that could not be extracted.
type ExtractionPartial struct {
	Fields map[string]error
}

func (e *ExtractionPartial) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sortStrings(names)
	return fmt.Sprintf("metadata extraction partial: %s unavailable", strings.Join(names, ", "))
}

// Unwrap returns the per-field errors.
func (e *ExtractionPartial) Unwrap() []error {
	errs := make([]error, 0, len(e.Fields))
	for _, err := range e.Fields {
		errs = append(errs, err)
	}
	return errs
}
