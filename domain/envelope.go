package domain

import (
	"time"

	"github.com/google/uuid"
)

// TargetKind describes where an envelope is routed.
type TargetKind string

const (
	TargetRoom      TargetKind = "room"
	TargetUser      TargetKind = "user"
	TargetBroadcast TargetKind = "broadcast"
)

// DefaultMessageType is used when a sender omits the free-form type tag.
const DefaultMessageType = "text"

// Target identifies the destination of a single delivery.
type Target struct {
	Kind   TargetKind
	RoomID string
	UserID string
}

// Envelope is the immutable value built at send time. It exists for one
// delivery call and is never persisted.
type Envelope struct {
	ID         string
	SenderID   string
	SenderName string
	Body       string
	Type       string
	At         time.Time
	Target     Target
}

// NewEnvelope stamps a fresh message id and timestamp. An empty type tag
// falls back to DefaultMessageType; the tag is otherwise free-form.
func NewEnvelope(sender User, body, msgType string, target Target) Envelope {
	if msgType == "" {
		msgType = DefaultMessageType
	}
	return Envelope{
		ID:         uuid.NewString(),
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Body:       body,
		Type:       msgType,
		At:         time.Now().UTC(),
		Target:     target,
	}
}
