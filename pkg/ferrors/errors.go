// Package ferrors defines the routing engine's error taxonomy.
//
// Every failure surfaced by the engine is one of a small number of kinds so
// that callers (the supervisor, metrics, logs) can branch on behavior
// (fatal vs. per-message vs. per-sink) without string matching.
package ferrors

import "fmt"

// Kind tags an error with its handling policy.
type Kind string

const (
	// KindConfig is a missing env var, unknown scheme, invalid URI, or
	// unknown processor type. Fatal at startup.
	KindConfig Kind = "config"
	// KindEndpointStart is a source or sink that failed to initialize.
	// The owning route transitions to Failed; other routes continue.
	KindEndpointStart Kind = "endpoint_start"
	// KindProcessing is an in-engine processor failure (filter predicate,
	// template required-var, aggregate invariant). Drops one message.
	KindProcessing Kind = "processing"
	// KindExternalProcess is a subprocess non-zero exit.
	KindExternalProcess Kind = "external_process"
	// KindExternalTimeout is a subprocess that exceeded its timeout.
	KindExternalTimeout Kind = "external_timeout"
	// KindDelivery is a sink that refused a message or hit a network error.
	KindDelivery Kind = "delivery"
	// KindSourceFatal is an unrecoverable source driver error.
	KindSourceFatal Kind = "source_fatal"
)

// Error is the engine's uniform error envelope. Op and Route identify where
// the failure occurred; Err is the underlying cause.
type Error struct {
	Kind  Kind
	Route string
	Op    string
	Err   error

	// Stderr holds captured subprocess stderr for KindExternalProcess and
	// KindExternalTimeout; empty otherwise.
	Stderr string
}

func (e *Error) Error() string {
	if e.Route == "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: route=%s %s: %v", e.Kind, e.Route, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, route, op string, err error) *Error {
	return &Error{Kind: kind, Route: route, Op: op, Err: err}
}

// WithStderr attaches captured subprocess stderr and returns the receiver.
func (e *Error) WithStderr(stderr string) *Error {
	e.Stderr = stderr
	return e
}

// Config wraps err as a KindConfig error.
func Config(op string, err error) *Error { return New(KindConfig, "", op, err) }

// Configf builds a KindConfig error from a format string.
func Configf(op, format string, args ...any) *Error {
	return New(KindConfig, "", op, fmt.Errorf(format, args...))
}

// EndpointStart wraps err as a KindEndpointStart error for route.
func EndpointStart(route, op string, err error) *Error {
	return New(KindEndpointStart, route, op, err)
}

// Processing wraps err as a KindProcessing error for route.
func Processing(route, op string, err error) *Error {
	return New(KindProcessing, route, op, err)
}

// ExternalProcess wraps err as a KindExternalProcess error for route.
func ExternalProcess(route, op string, err error) *Error {
	return New(KindExternalProcess, route, op, err)
}

// ExternalTimeout wraps err as a KindExternalTimeout error for route.
func ExternalTimeout(route, op string, err error) *Error {
	return New(KindExternalTimeout, route, op, err)
}

// Delivery wraps err as a KindDelivery error for route.
func Delivery(route, op string, err error) *Error {
	return New(KindDelivery, route, op, err)
}

// SourceFatal wraps err as a KindSourceFatal error for route.
func SourceFatal(route, op string, err error) *Error {
	return New(KindSourceFatal, route, op, err)
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if ok := asError(err, &fe); ok {
		return fe.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
