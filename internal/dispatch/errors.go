package dispatch

import (
	"errors"
	"fmt"

	"github.com/lucasnoah/auditfactory/internal/contract"
)

// Kind classifies a dispatch failure.
type Kind string

const (
	KindUnreachable     Kind = "unreachable"
	KindTimeout         Kind = "timeout"
	KindInvalidResponse Kind = "invalid_response"
	KindUnsupported     Kind = "unsupported"
	// KindAgentFailed means the agent was reached and reported an error of its own.
	KindAgentFailed Kind = "agent_failed"
)

// Error is a failed call to an agent role.
type Error struct {
	Kind  Kind
	Role  string
	Skill string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dispatch %s/%s: %s", e.Role, e.Skill, e.Kind)
	}
	return fmt.Sprintf("dispatch %s/%s: %s: %v", e.Role, e.Skill, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ContractError is a payload that failed its declared contract. Phase is
// "input" when the call was refused, "output" when the response was dropped.
type ContractError struct {
	Role      string
	Skill     string
	Phase     string
	Violation *contract.ViolationError
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s/%s %s: %v", e.Role, e.Skill, e.Phase, e.Violation)
}

func (e *ContractError) Unwrap() error {
	return e.Violation
}

// Field names the offending field.
func (e *ContractError) Field() string { return e.Violation.Field }

// Reason describes why the field was rejected.
func (e *ContractError) Reason() string { return e.Violation.Reason }

// KindOf returns the dispatch kind of err, or "" when err is not a dispatch Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func retryable(err error) bool {
	k := KindOf(err)
	return k == KindUnreachable || k == KindTimeout
}
