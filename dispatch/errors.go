package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorKind classifies a dispatch failure.
type ErrorKind int

const (
	// KindUnexpected covers failures from interceptors or the transport that
	// are not I/O-shaped. The original cause is preserved for diagnostics.
	KindUnexpected ErrorKind = iota

	// KindNoInstances means the registry returned no candidate endpoint for
	// the service. Fatal for the call; the dispatcher does not retry it.
	KindNoInstances

	// KindMalformedTarget means the logical request URL had no parseable
	// authority. A programming error, fatal.
	KindMalformedTarget

	// KindIOFailure marks a network or transport-level failure. The wrapped
	// cause is the first concrete I/O-shaped error in the chain, so callers
	// can keep matching on the net/os error types.
	KindIOFailure

	// KindCanceled means the caller's context was canceled before or during
	// transport execution.
	KindCanceled
)

// String returns the snake_case label used in logs and statistics.
func (k ErrorKind) String() string {
	switch k {
	case KindNoInstances:
		return "no_instances"
	case KindMalformedTarget:
		return "malformed_target"
	case KindIOFailure:
		return "io_failure"
	case KindCanceled:
		return "canceled"
	default:
		return "unexpected"
	}
}

// Error is the classified failure returned by Dispatcher.Do.
type Error struct {
	// Kind is the failure class.
	Kind ErrorKind

	// Service is the logical service name of the failed call.
	Service string

	// cause is the underlying error; for KindIOFailure it is the concrete
	// I/O-shaped error rather than the wrappers around it.
	cause error
}

func (e *Error) Error() string {
	msg := "dispatch " + e.Service + ": " + e.Kind.String()
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the ErrorKind of err if it is (or wraps) a dispatch Error.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

func newError(kind ErrorKind, service string, cause error) *Error {
	return &Error{Kind: kind, Service: service, cause: cause}
}

// classify maps a transport failure to its ErrorKind, digging the concrete
// I/O-shaped error out of the cause chain when one is present.
func classify(ctx context.Context, err error) (ErrorKind, error) {
	if err == nil {
		return KindUnexpected, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return KindCanceled, err
	}
	if io := findIOError(err); io != nil {
		return KindIOFailure, io
	}
	return KindUnexpected, err
}

// findIOError walks the cause chain inward and returns the first I/O-shaped
// error, or nil if none is found. Skipping the non-I/O wrappers around it
// keeps the concrete error, with its full message, as the reported cause no
// matter how many layers wrapped it.
func findIOError(err error) error {
	for err != nil {
		if ioShaped(err) {
			return err
		}
		err = errors.Unwrap(err)
	}
	return nil
}

// ioShaped reports whether err itself, not something it wraps, represents a
// network or I/O failure.
func ioShaped(err error) bool {
	switch err.(type) {
	case *net.OpError, *net.DNSError, *os.SyscallError, syscall.Errno:
		return true
	case net.Error:
		return true
	}
	return err == io.EOF ||
		err == io.ErrUnexpectedEOF ||
		err == os.ErrDeadlineExceeded
}
