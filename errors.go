package octree

import (
	"errors"
	"fmt"
)

// Kind classifies a BuildError so callers can branch on failure category
// without parsing error strings.
type Kind int

const (
	// InvalidInput covers unreadable sources, malformed configuration, or
	// bounds violations detected before a build starts.
	InvalidInput Kind = iota
	// EndpointIoError is transient and safe to retry with backoff.
	EndpointIoError
	// ChunkCorrupt means a chunk on the endpoint failed header/size
	// verification. Fatal — aborts the build.
	ChunkCorrupt
	// MergeCollision means two subset shards claim the same hierarchy key.
	// Fatal.
	MergeCollision
	// Cancelled means the build's context was cancelled by the caller.
	Cancelled
	// OutOfMemory is raised when cell or buffer allocation fails. Fatal.
	OutOfMemory
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case EndpointIoError:
		return "EndpointIoError"
	case ChunkCorrupt:
		return "ChunkCorrupt"
	case MergeCollision:
		return "MergeCollision"
	case Cancelled:
		return "Cancelled"
	case OutOfMemory:
		return "OutOfMemory"
	default:
		return "Unknown"
	}
}

// BuildError is the single wrapping error type this module uses for the
// failures it detects or wraps; a cancelled context surfaces as the
// context's own error (e.g. from build.RunWorkers). It carries a Kind, a human context string and
// the underlying cause, and supports errors.Is/errors.As through Unwrap.
type BuildError struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *BuildError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// WrapError builds a *BuildError of the given kind, returning nil when
// cause is nil so call sites can write `return WrapError(...)` unconditionally.
func WrapError(kind Kind, context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &BuildError{Kind: kind, Context: context, Cause: cause}
}

// NewError constructs a *BuildError with no wrapped cause, for conditions
// detected directly by this module rather than propagated from below.
func NewError(kind Kind, context string) error {
	return &BuildError{Kind: kind, Context: context}
}

// IsKind reports whether err is a *BuildError of the given kind, anywhere
// in its wrap chain.
func IsKind(err error, kind Kind) bool {
	var be *BuildError
	if !errors.As(err, &be) {
		return false
	}
	return be.Kind == kind
}

// Retryable reports whether err is an EndpointIoError, the only kind this
// module's retry loop will automatically back off and retry.
func Retryable(err error) bool {
	return IsKind(err, EndpointIoError)
}
