// Package fcrerr defines the FcrErrorCode taxonomy used across FCR and a
// typed error that carries one of those codes.
package fcrerr

import (
	"errors"
	"fmt"
)

// Code is an FcrErrorCode. Ranges follow the source specification:
// 1-13 generic, 100-199 user, 200-299 device, 300-399 network.
type Code int

const (
	Unknown Code = iota + 1
	Runtime
	Assertion
	Lookup
	StreamReader
	CommandExecutionTimeout
	NotImplemented
	Parsing
	Value
	Type
	Attribute
	Timeout
)

const (
	Validation Code = iota + 100
	Permission
	UnsupportedDevice
	UnsupportedCommand
)

const (
	DeviceError Code = iota + 200
	CommandExecutionError
)

const (
	ConnectionError Code = iota + 300
	ConnectionTimeoutError
	InstanceOverloaded
)

var names = map[Code]string{
	Unknown:                  "UNKNOWN",
	Runtime:                  "RUNTIME",
	Assertion:                "ASSERTION",
	Lookup:                   "LOOKUP",
	StreamReader:             "STREAM_READER",
	CommandExecutionTimeout:  "COMMAND_EXECUTION_TIMEOUT",
	NotImplemented:           "NOT_IMPLEMENTED",
	Parsing:                  "PARSING",
	Value:                    "VALUE",
	Type:                     "TYPE",
	Attribute:                "ATTRIBUTE",
	Timeout:                  "TIMEOUT",
	Validation:               "VALIDATION",
	Permission:               "PERMISSION_ERROR",
	UnsupportedDevice:        "UNSUPPORTED_DEVICE",
	UnsupportedCommand:       "UNSUPPORTED_COMMAND",
	DeviceError:              "DEVICE_ERROR",
	CommandExecutionError:    "COMMAND_EXECUTION_ERROR",
	ConnectionError:          "CONNECTION_ERROR",
	ConnectionTimeoutError:   "CONNECTION_TIMEOUT",
	InstanceOverloaded:       "INSTANCE_OVERLOADED",
}

// String returns the literal name used in log lines and RPC status details.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Error is a code-carrying error. It is the concrete type behind
// SessionException: any component that needs to fail a client call with a
// specific taxonomy code returns one of these (or wraps one with Wrap).
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an existing error, preserving it for errors.Is/As.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// Wrapf attaches a code and a formatted message to an existing error,
// preserving it for errors.Is/As.
func Wrapf(code Code, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code carried by err, if any, defaulting to Unknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// SessionException is the error surfaced to callers of open_session,
// run_session and close_session (spec section 7). It is an *Error that
// keeps the code of the failure it reports: NewSessionException uses
// VALIDATION, while session and transport failures keep theirs (for
// example COMMAND_EXECUTION_TIMEOUT or CONNECTION_ERROR).
type SessionException = Error

// NewSessionException is a convenience constructor mirroring the source's
// SessionException("message") call sites.
func NewSessionException(message string) *SessionException {
	return New(Validation, message)
}
