// Package errkind classifies the component-agnostic error kinds the
// pipeline must distinguish (spec §7): whether a failure is worth retrying
// next tick, permanent, local, or merely a skip signal.
package errkind

import "errors"

// Kind is a closed set of error classifications: whether a failure belongs
// with Local Backup, Recovery Registry, a health alert, or is simply an
// expected condition (lock contention, validation). The pipeline packages do
// not import this package; they route a failure by which step failed.
type Kind int

const (
	// Unknown is the zero value: an error with no assigned classification.
	Unknown Kind = iota
	// TransientRemote covers queue/object-store/warehouse failures that are
	// retry-worthy on a later tick, never within the same tick.
	TransientRemote
	// PermanentRemote covers credential/permission/schema-mismatch failures
	// that should escalate to a terminal state after maxRetries.
	PermanentRemote
	// LocalIO covers failures writing to the on-disk durable stores.
	LocalIO
	// LockContention means another process or instance holds the tick lock;
	// not an operator-visible error, just a skipped tick.
	LockContention
	// ConcurrentTick means an in-process guard rejected an overlapping tick.
	ConcurrentTick
)

func (k Kind) String() string {
	switch k {
	case TransientRemote:
		return "transient_remote"
	case PermanentRemote:
		return "permanent_remote"
	case LocalIO:
		return "local_io"
	case LockContention:
		return "lock_contention"
	case ConcurrentTick:
		return "concurrent_tick"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, so callers can classify a
// failure with errors.As without string-matching messages.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches a Kind to err. Wrap(nil, ...) returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, or Unknown if none.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Unknown
}
