package domain

import "errors"

var (
	// ErrSourceFetch aborts a whole invocation.
	ErrSourceFetch = errors.New("source fetch failed")
	// ErrConflict means the posting URL is already stored.
	ErrConflict = errors.New("posting already exists")
	// ErrTransport is a per-recipient delivery failure.
	ErrTransport = errors.New("transport send failed")
	// ErrPersistence is an unexpected store failure for a single posting.
	ErrPersistence = errors.New("persistence failed")
)

// Error tags an underlying error with one of the kinds above and the
// operation that produced it.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns nil when err is nil. An err that already carries kind is
// returned unchanged.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
