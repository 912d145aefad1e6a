package rpc

import (
	"errors"
	"fmt"
)

// Standard errors returned by the client.
var (
	// ErrNotConfigured indicates the engine executable path is missing.
	ErrNotConfigured = errors.New("PolyDB LSP path not configured")

	// ErrNotRunning indicates a request was issued while the connection was not running.
	ErrNotRunning = errors.New("PolyDB LSP is not running")

	// ErrAlreadyRunning indicates Start was called on a client that is not stopped.
	ErrAlreadyRunning = errors.New("PolyDB LSP already started")

	// ErrConnectionLost indicates the engine process or its stream went away.
	ErrConnectionLost = errors.New("connection to PolyDB LSP lost")

	// ErrRequestTimeout indicates the configured request timeout elapsed.
	ErrRequestTimeout = errors.New("request timed out")
)

// Kind classifies a failure.
type Kind int

const (
	// KindConfiguration is a missing or unusable configuration, including
	// requests issued while the engine is not running.
	KindConfiguration Kind = iota + 1
	// KindValidation is a missing or empty required parameter, detected
	// locally before any remote call.
	KindValidation
	// KindStartup is a failure to launch the engine or complete the handshake.
	KindStartup
	// KindTransport is a lost connection, an abandoned or timed out request.
	KindTransport
	// KindRemote is an explicit failure returned by the engine.
	KindRemote
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindValidation:
		return "validation error"
	case KindStartup:
		return "startup error"
	case KindTransport:
		return "transport error"
	case KindRemote:
		return "remote error"
	default:
		return "unknown error"
	}
}

// Op names the façade operation an error belongs to.
type Op string

const (
	OpStart        Op = "start"
	OpShutdown     Op = "shutdown"
	OpExecuteQuery Op = "executeQuery"
	OpGetSchema    Op = "getSchema"
	OpCreateBackup Op = "createBackup"
	OpConnect      Op = "connect"
	OpFilesChanged Op = "filesChanged"
)

// Error is the failure arm of every façade operation.
type Error struct {
	Kind    Kind
	Op      Op
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op Op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Invalid returns a validation error for op.
func Invalid(op Op, format string, args ...any) *Error {
	return newError(KindValidation, op, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind
	}
	return 0
}

// Describe returns the message to show a user for err.
func Describe(err error) string {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}
