package bpmn

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes engine errors.
type ErrorKind string

const (
	// KindGraphInconsistency means the graph cannot be executed as built,
	// e.g. a split where no guard matched and no default flow exists.
	// It halts the affected instance.
	KindGraphInconsistency ErrorKind = "GRAPH_INCONSISTENCY"

	// KindInvalidTokenOperation means an external call referenced a token
	// that cannot take that operation. Engine state is left untouched.
	KindInvalidTokenOperation ErrorKind = "INVALID_TOKEN_OPERATION"

	// KindSchedulingBudgetExceeded means a step budget ran out before the
	// instance reached a stable state. It is not a failure.
	KindSchedulingBudgetExceeded ErrorKind = "SCHEDULING_BUDGET_EXCEEDED"
)

// Error is an engine error with diagnostic context.
type Error struct {
	Kind     ErrorKind
	Message  string
	Process  string
	Instance string
	Node     string
	Token    string
	Details  map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Instance != "" && e.Node != "":
		return fmt.Sprintf("%s: %s (instance=%s, node=%s)", e.Kind, e.Message, e.Instance, e.Node)
	case e.Node != "":
		return fmt.Sprintf("%s: %s (node=%s)", e.Kind, e.Message, e.Node)
	case e.Token != "":
		return fmt.Sprintf("%s: %s (token=%s)", e.Kind, e.Message, e.Token)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// IsGraphInconsistency reports whether err is a graph inconsistency.
func IsGraphInconsistency(err error) bool {
	return hasKind(err, KindGraphInconsistency)
}

// IsInvalidTokenOperation reports whether err is an invalid token operation.
func IsInvalidTokenOperation(err error) bool {
	return hasKind(err, KindInvalidTokenOperation)
}

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func graphError(process, node, format string, args ...any) *Error {
	return &Error{
		Kind:    KindGraphInconsistency,
		Message: fmt.Sprintf(format, args...),
		Process: process,
		Node:    node,
	}
}

func tokenError(instance, token, format string, args ...any) *Error {
	return &Error{
		Kind:     KindInvalidTokenOperation,
		Message:  fmt.Sprintf(format, args...),
		Instance: instance,
		Token:    token,
	}
}
