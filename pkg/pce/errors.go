package pce

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failed PCE call.
type ErrorClass string

const (
	// ClassUnreachable means no definitive answer was obtained: the transport
	// failed, timed out, or the PCE returned a status that does not confirm absence.
	ClassUnreachable ErrorClass = "unreachable"

	// ClassNotFound means the PCE confirmed the object does not exist.
	ClassNotFound ErrorClass = "not_found"

	// ClassRejected means the PCE refused a write or provision request.
	ClassRejected ErrorClass = "rejected"
)

// ErrNotFound is matched by errors.Is for every not-found RemoteError.
var ErrNotFound = errors.New("object not found")

// RemoteError describes a failed PCE request.
type RemoteError struct {
	Class  ErrorClass
	Op     string
	Href   string
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("pce %s %s: %s", e.Op, e.Href, e.Class)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying transport error, if any.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is reports not-found errors as ErrNotFound.
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.Class == ClassNotFound
}

// IsNotFound reports whether err means the object is confirmed absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnreachable reports whether err means the PCE gave no definitive answer.
func IsUnreachable(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Class == ClassUnreachable
}

// IsRejected reports whether err is a refused write or provision.
func IsRejected(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Class == ClassRejected
}

const maxErrorBody = 2048

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
