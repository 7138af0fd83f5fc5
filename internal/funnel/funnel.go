// ABOUTME: Closed vocabularies for the intake funnel: stages, roles, directions, statuses
// ABOUTME: Unrecognized values are rejected at the boundary, never passed through

package funnel

import (
	"errors"
	"fmt"
)

// ErrUnknownStage is returned when parsing a stage string that is not part of
// the funnel vocabulary.
var ErrUnknownStage = errors.New("unknown funnel stage")

// ErrInvalidTransition is returned when a stage change is not allowed by the
// funnel's transition table.
var ErrInvalidTransition = errors.New("invalid stage transition")

// Stage is a contact's position in the intake funnel.
type Stage string

const (
	StageNewLead    Stage = "new_lead"
	StageQualifying Stage = "qualifying"
	StageQuoted     Stage = "quoted"
	StageBooked     Stage = "booked"
	StageCompleted  Stage = "completed"
	StageClosed     Stage = "closed"
)

// stageTransitions lists the allowed moves per stage. Closed is a sink
// reachable from every stage.
var stageTransitions = map[Stage][]Stage{
	StageNewLead:    {StageQualifying, StageClosed},
	StageQualifying: {StageQuoted, StageClosed},
	StageQuoted:     {StageBooked, StageQualifying, StageClosed},
	StageBooked:     {StageCompleted, StageQuoted, StageClosed},
	StageCompleted:  {StageClosed},
	StageClosed:     {},
}

// Valid reports whether s is a member of the stage vocabulary.
func (s Stage) Valid() bool {
	_, ok := stageTransitions[s]
	return ok
}

// ParseStage converts a raw string into a Stage, rejecting anything outside
// the vocabulary.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
	}
	return s, nil
}

// Transition validates a stage change against the funnel's transition table.
// Same-stage transitions are allowed (idempotent updates).
func Transition(from, to Stage) error {
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, string(from))
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, string(to))
	}
	if from == to {
		return nil
	}
	for _, next := range stageTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Role identifies what kind of contact a conversation belongs to.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleContractor Role = "contractor"
	RoleOperator   Role = "operator"
)

// Valid reports whether r is a member of the role vocabulary.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleContractor, RoleOperator:
		return true
	}
	return false
}

// Direction indicates whether a message flowed into or out of the business.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is a member of the direction vocabulary.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// MessageStatus is the delivery status of an outbound message. Display only;
// no logic branches on it beyond validation.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Valid reports whether st is a member of the status vocabulary.
func (st MessageStatus) Valid() bool {
	switch st {
	case StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}
