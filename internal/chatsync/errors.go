package chatsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by capabilities when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by capabilities when a unique record already exists.
	ErrConflict = errors.New("already exists")

	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrUnknownChat      = errors.New("chat is not in the local list")
	errNoAuth           = errors.New("no auth capability configured")
	errNoObjectStorage  = errors.New("no object storage configured")
)

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindRemote          Kind = "remote"
	KindNoActiveSession Kind = "no_active_session"
)

// Error is returned by every Synchronizer operation that fails.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chatsync: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("chatsync: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RemoteError carries the (code, message) pair reported by a remote service.
// Err, when set, is one of the sentinels above so errors.Is keeps working.
type RemoteError struct {
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %d (code %d): %s", e.Status, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or "" when err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func remoteErr(op string, err error) *Error {
	kind := KindRemote
	if errors.Is(err, ErrNotFound) {
		kind = KindNotFound
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func validationErr(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}
