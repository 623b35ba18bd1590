package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrPreconditionBlocked = errors.New("precondition blocked")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrFormRequired        = errors.New("transition requires form data")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrAuditDivergence     = errors.New("audit history array diverged from history log")
	ErrValidation          = errors.New("validation failed")
)

// Prerequisite names a completion gate a ticket must satisfy before entering
// an area.
type Prerequisite string

const (
	PrerequisiteAdditionalInfo Prerequisite = "additionalInfoComplete"
	PrerequisiteQAComplete     Prerequisite = "qaProgress"
)

// BlockedError reports the gate that stopped a move.
type BlockedError struct {
	Target       Area
	Prerequisite Prerequisite
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("move to %q blocked: %s not satisfied", e.Target, e.Prerequisite)
}

// Is lets callers match with errors.Is(err, ErrPreconditionBlocked).
func (e *BlockedError) Is(target error) bool {
	return target == ErrPreconditionBlocked
}

// TransitionError reports a move rejected outright.
type TransitionError struct {
	From   Area
	To     Area
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %q to %q: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
