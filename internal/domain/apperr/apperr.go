// Package apperr classifies domain failures so that callers can tell
// malformed input from missing entities, illegal transitions, forbidden
// actors and violated business rules without string matching.
package apperr

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Kind is the category of a domain error.
type Kind uint8

const (
	// KindInternal is anything not classified below (storage failures etc).
	KindInternal Kind = iota
	// KindValidation is malformed input or an out-of-range value.
	KindValidation
	// KindNotFound is an unknown code, product, order, payment or commission.
	KindNotFound
	// KindState is an action that is not legal in the current status.
	KindState
	// KindForbidden is a wrong actor or role.
	KindForbidden
	// KindBusinessRule is insufficient stock, an exhausted code and similar.
	KindBusinessRule
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindForbidden:
		return "forbidden"
	case KindBusinessRule:
		return "business_rule"
	default:
		return "internal"
	}
}

// Error is a classified error carrying a user-displayable message.
type Error struct {
	kind    Kind
	message string
}

func (e *Error) Error() string { return e.message }

// Kind returns the error category.
func (e *Error) Kind() Kind { return e.kind }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Validation returns a KindValidation error.
func Validation(format string, args ...any) *Error { return newError(KindValidation, format, args...) }

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error { return newError(KindNotFound, format, args...) }

// Forbidden returns a KindForbidden error.
func Forbidden(format string, args ...any) *Error { return newError(KindForbidden, format, args...) }

// BusinessRule returns a KindBusinessRule error.
func BusinessRule(format string, args ...any) *Error {
	return newError(KindBusinessRule, format, args...)
}

// State returns a KindState error that is not tied to a transition table.
func State(format string, args ...any) *Error { return newError(KindState, format, args...) }

// TransitionError reports a status change outside the allowed set.
type TransitionError struct {
	Entity  string
	From    string
	To      string
	Allowed []string
}

func (e *TransitionError) Error() string {
	allowed := "ninguno (estado final)"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf("transición inválida de %s: %s -> %s (permitidos: %s)", e.Entity, e.From, e.To, allowed)
}

// Kind implements the classification interface.
func (e *TransitionError) Kind() Kind { return KindState }

// KindOf returns the category of the first classified error in the chain.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Message returns the user-displayable message of the outermost classified
// error in the chain, or an empty string.
func Message(err error) string {
	var e interface {
		error
		Kind() Kind
	}
	if errors.As(err, &e) {
		return e.Error()
	}
	return ""
}
