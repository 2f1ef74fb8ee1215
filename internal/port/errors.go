package port

import (
	"errors"
	"fmt"
)

// Kind classifies every failure surfaced by the port authority and the
// fleet provisioner.
type Kind string

const (
	// KindNotFound marks an absent port document, manifest, pier or cargo.
	KindNotFound Kind = "not_found"
	// KindStorage marks any object store failure other than not found.
	KindStorage Kind = "storage"
	// KindValidation marks a referential integrity or input failure.
	KindValidation Kind = "validation"
	// KindAmbiguousState marks several remote resources sharing one name.
	KindAmbiguousState Kind = "ambiguous_state"
	// KindParse marks a malformed structured string such as a reinforcement strategy.
	KindParse Kind = "parse"
	// KindConflict marks a write rejected because the target already exists or changed.
	KindConflict Kind = "conflict"
	// KindProvider marks an error returned by the cloud provider API.
	KindProvider Kind = "provider"
)

// Error is the single error type crossing the package boundary.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func errorf(kind Kind, op, subject, format string, args ...any) *Error {
	return newError(kind, op, subject, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsNotFound reports whether err means the port (or a named entry) does not exist.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }
