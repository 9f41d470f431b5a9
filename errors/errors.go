// Package errors defines the error taxonomy shared by every go-git-bridge
// package. Each failure carries a Kind, telling apart engine failures from
// host mistakes, scheduling failures and poisoned repositories, and for engine
// failures a Code, so callers can branch on not-found versus auth versus
// network without matching on message text.
//
// The package augments the standard errors package: Is, As and Unwrap are
// re-exported so callers rarely need both imports.
package errors

import (
	stderr "errors"
	"fmt"
)

// Kind is the broad class of a failure.
type Kind int

const (
	// KindEngine wraps an error reported by the version-control engine.
	KindEngine Kind = iota + 1
	// KindType is returned when host code supplied a value of the wrong
	// shape, such as a callback returning an invalid credential descriptor.
	KindType
	// KindScheduling is returned when the dispatcher could not enqueue a task.
	KindScheduling
	// KindFatalLockState is returned by every operation on a repository whose
	// exclusive-access lock was poisoned by an earlier fault.
	KindFatalLockState
	// KindFault is a panic recovered at a task boundary, outside of any
	// repository critical section.
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindEngine:
		return "engine"
	case KindType:
		return "type"
	case KindScheduling:
		return "scheduling"
	case KindFatalLockState:
		return "fatal-lock-state"
	case KindFault:
		return "fault"
	}

	return "unknown"
}

// Code refines KindEngine errors.
type Code int

const (
	CodeGeneric Code = iota
	CodeNotFound
	CodeExists
	CodeInvalidSpec
	CodeAuth
	CodeCertificate
	CodeNetwork
	CodeConflict
	CodeInvalidObjectType
	CodeIo
	CodeInvalidRepository
	CodeBareRepository
	CodeClosed
	CodeDeadlock
	CodeUnsupported
)

var codeNames = map[Code]string{
	CodeGeneric:           "generic",
	CodeNotFound:          "not-found",
	CodeExists:            "exists",
	CodeInvalidSpec:       "invalid-spec",
	CodeAuth:              "auth",
	CodeCertificate:       "certificate",
	CodeNetwork:           "network",
	CodeConflict:          "conflict",
	CodeInvalidObjectType: "invalid-object-type",
	CodeIo:                "io",
	CodeInvalidRepository: "invalid-repository",
	CodeBareRepository:    "bare-repository",
	CodeClosed:            "closed",
	CodeDeadlock:          "deadlock",
	CodeUnsupported:       "unsupported",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}

	return fmt.Sprintf("code(%d)", int(c))
}

var _ error = (*Error)(nil)

// Error is the concrete error type returned by go-git-bridge.
type Error struct {
	Kind Kind
	Code Code
	// Op is the operation that failed, e.g. "repository.find_commit".
	Op string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var prefix string
	if e.Op != "" {
		prefix = e.Op + ": "
	}

	label := e.Kind.String()
	if e.Kind == KindEngine {
		label += "/" + e.Code.String()
	}

	if e.Err == nil {
		return prefix + label
	}

	return fmt.Sprintf("%s%s: %s", prefix, label, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is matches sentinels by kind and code. A sentinel is an *Error without Op
// nor Err; any error of the same kind (and, for engine errors, the same code)
// matches it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	if e == t {
		return true
	}

	if t.Op != "" || t.Err != nil {
		return false
	}

	if e.Kind != t.Kind {
		return false
	}

	return e.Kind != KindEngine || e.Code == t.Code
}

// Sentinels usable with errors.Is.
var (
	ErrEngine            = &Error{Kind: KindEngine, Code: CodeGeneric}
	ErrNotFound          = &Error{Kind: KindEngine, Code: CodeNotFound}
	ErrExists            = &Error{Kind: KindEngine, Code: CodeExists}
	ErrInvalidSpec       = &Error{Kind: KindEngine, Code: CodeInvalidSpec}
	ErrAuth              = &Error{Kind: KindEngine, Code: CodeAuth}
	ErrCertificate       = &Error{Kind: KindEngine, Code: CodeCertificate}
	ErrNetwork           = &Error{Kind: KindEngine, Code: CodeNetwork}
	ErrConflict          = &Error{Kind: KindEngine, Code: CodeConflict}
	ErrInvalidObjectType = &Error{Kind: KindEngine, Code: CodeInvalidObjectType}
	ErrIo                = &Error{Kind: KindEngine, Code: CodeIo}
	ErrInvalidRepository = &Error{Kind: KindEngine, Code: CodeInvalidRepository}
	ErrBareRepository    = &Error{Kind: KindEngine, Code: CodeBareRepository}
	ErrClosed            = &Error{Kind: KindEngine, Code: CodeClosed}
	ErrDeadlock          = &Error{Kind: KindEngine, Code: CodeDeadlock}
	ErrUnsupported       = &Error{Kind: KindEngine, Code: CodeUnsupported}

	ErrType           = &Error{Kind: KindType}
	ErrScheduling     = &Error{Kind: KindScheduling}
	ErrFatalLockState = &Error{Kind: KindFatalLockState}
	ErrFault          = &Error{Kind: KindFault}
)

// Engine returns an engine error with the given code. A nil cause yields nil.
func Engine(op string, code Code, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: KindEngine, Code: code, Op: op, Err: err}
}

// Enginef is Engine with a formatted cause.
func Enginef(op string, code Code, format string, args ...interface{}) error {
	return &Error{Kind: KindEngine, Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Typef returns a KindType error.
func Typef(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindType, Op: op, Err: fmt.Errorf(format, args...)}
}

// Scheduling returns a KindScheduling error.
func Scheduling(op string, err error) error {
	return &Error{Kind: KindScheduling, Op: op, Err: err}
}

// FatalLockState returns a KindFatalLockState error whose cause is the fault
// that poisoned the lock.
func FatalLockState(op string, cause error) error {
	return &Error{Kind: KindFatalLockState, Op: op, Err: cause}
}

// Fault returns a KindFault error for a recovered panic value.
func Fault(op string, recovered interface{}) error {
	return &Error{Kind: KindFault, Op: op, Err: fmt.Errorf("panic: %v", recovered)}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if stderr.As(err, &e) {
		return e.Kind
	}

	return 0
}

// CodeOf returns the code of the first engine *Error in err's chain, or
// CodeGeneric.
func CodeOf(err error) Code {
	var e *Error
	if stderr.As(err, &e) && e.Kind == KindEngine {
		return e.Code
	}

	return CodeGeneric
}

// New is a shortcut to the standard library errors.New.
func New(msg string) error {
	return stderr.New(msg)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is).
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

// As finds the first error in err's chain that matches target
// (a shortcut to standard lib errors.As).
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Unwrap is a shortcut to standard lib errors.Unwrap.
func Unwrap(err error) error {
	return stderr.Unwrap(err)
}
