// Package failure defines the error taxonomy shared by the orchestrator.
// Every terminal outcome of a run maps to exactly one Kind, and the CLI
// derives its exit status from that Kind.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the machine-readable class of a failure.
type Kind string

const (
	OntologyInvalid     Kind = "OntologyInvalid"
	UnreachableEntities Kind = "UnreachableEntities"
	LLMUnavailable      Kind = "LLMUnavailable"
	ParseError          Kind = "ParseError"
	ValidationError     Kind = "ValidationError"
	EdgeExhausted       Kind = "EdgeExhausted"
	Stuck               Kind = "Stuck"
	BudgetExhausted     Kind = "BudgetExhausted"
	Cancelled           Kind = "Cancelled"
	PersistenceError    Kind = "PersistenceError"
)

// Recoverable reports whether the refinement sub-loop can absorb the kind.
func (k Kind) Recoverable() bool {
	return k == ParseError || k == ValidationError
}

// Error is a classified failure with an optional one-line hint for users.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

// New creates a failure of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithHint returns the error with a hint attached.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: Stuck}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// KindOf extracts the failure kind from err. Context cancellation maps to
// Cancelled; unclassified errors return the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HintOf returns the first hint found in the error chain.
func HintOf(err error) string {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return ""
		}
		if fe.Hint != "" {
			return fe.Hint
		}
		err = fe.Err
	}
	return ""
}

// Exit codes used by the CLI front-end.
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitOntology  = 2
	ExitCancelled = 130
)

// ExitCode maps a run result to the CLI exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case Cancelled:
		return ExitCancelled
	case OntologyInvalid, UnreachableEntities:
		return ExitOntology
	default:
		return ExitFailed
	}
}
