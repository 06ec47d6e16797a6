package models

import (
	"time"

	"github.com/google/uuid"
)

// PresencePayload carries the minimal fields needed to prove a student was at
// a session. Immutable once enqueued.
type PresencePayload struct {
	SessionId string    `json:"sid" validate:"required"`
	StudentId string    `json:"stu" validate:"required"`
	Code      string    `json:"code" validate:"required"`
	Timestamp time.Time `json:"ts" validate:"required"`
}

// QueueItem is one pending submission. The id is generated client-side and
// doubles as the idempotency key presented to the server, so a retried item
// can never create a second record.
type QueueItem struct {
	Id        uuid.UUID       `json:"id"`
	Payload   PresencePayload `json:"payload"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"createdAt"`
}

type SubmitOutcome uint8

const (
	SubmitOutcome_Delivered SubmitOutcome = iota
	// The server had already recorded this submission id. Treated as
	// delivered from the user's perspective.
	SubmitOutcome_AlreadyRecorded
	SubmitOutcome_Rejected
)

func (o SubmitOutcome) String() string {
	switch o {
	case SubmitOutcome_Delivered:
		return "delivered"
	case SubmitOutcome_AlreadyRecorded:
		return "already_recorded"
	default:
		return "rejected"
	}
}
