// Package ioerr defines the POSIX-flavoured error kinds shared by every
// driver in the device core. Drivers never retry silently: a kind is
// returned to the caller and the caller decides what happens next.
package ioerr

import "errors"

// Kind classifies a failure the way the block/USB/filesystem engines are
// contractually required to: hardware/protocol failure, timeout, resource
// exhaustion, bad argument, or an intentionally unimplemented feature.
type Kind int

const (
	// KindNone is the zero value and never wraps a real error.
	KindNone Kind = iota
	KindIO
	KindTimedOut
	KindNoSpace
	KindNoMemory
	KindInvalid
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "EIO"
	case KindTimedOut:
		return "ETIMEDOUT"
	case KindNoSpace:
		return "ENOSPC"
	case KindNoMemory:
		return "ENOMEM"
	case KindInvalid:
		return "EINVAL"
	case KindNotSupported:
		return "ENOTSUP"
	default:
		return "EOK"
	}
}

// Error is a Kind paired with context. It satisfies the standard error
// interface and unwraps to the wrapped cause, if any.
type Error struct {
	Kind Kind
	Msg string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(k Kind, msg string) error {
	return &Error{Kind: k, Msg: msg}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(k Kind, msg string, cause error) error {
	return &Error{Kind: k, Msg: msg, Cause: cause}
}

// EIO, ETIMEDOUT, ENOSPC, ENOMEM, EINVAL and ENOTSUP are the sentinel kinds
// named throughout this module. Use errors.Is against these, or KindOf to
// recover the kind of an arbitrary error returned from this module's tree.
var (
	EIO = New(KindIO, "device or protocol failure")
	ETIMEDOUT = New(KindTimedOut, "operation timed out")
	ENOSPC = New(KindNoSpace, "no space left on device")
	ENOMEM = New(KindNoMemory, "out of memory")
	EINVAL = New(KindInvalid, "invalid argument")
	ENOTSUP = New(KindNotSupported, "not supported")
)

// KindOf recovers the Kind carried by err, walking the Unwrap chain. It
// returns KindNone if err is nil and KindIO if err carries no *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// Is reports whether err (or anything it wraps) carries kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
