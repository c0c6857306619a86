package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event names, sent by clients.
const (
	EventJoinRoom           = "join_room"
	EventLeaveRoom          = "leave_room"
	EventSendMessage        = "send_message"
	EventSendPrivateMessage = "send_private_message"
	EventTypingStart        = "typing_start"
	EventTypingStop         = "typing_stop"
	EventUpdateStatus       = "update_status"
	EventPing               = "ping"
)

// Outbound event names, emitted by the server.
const (
	EventConnected          = "connected"
	EventJoinedRoom         = "joined_room"
	EventLeftRoom           = "left_room"
	EventUserJoinedRoom     = "user_joined_room"
	EventUserLeftRoom       = "user_left_room"
	EventRoomMessage        = "room_message"
	EventMessageSent        = "message_sent"
	EventPrivateMessage     = "private_message"
	EventPrivateMessageSent = "private_message_sent"
	EventUserTypingStart    = "user_typing_start"
	EventUserTypingStop     = "user_typing_stop"
	EventUserStatusUpdated  = "user_status_updated"
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventPong               = "pong"
	EventError              = "error"
)

// Frame is the wire representation of every event in both directions:
// a name plus a JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an outbound event frame.
func EncodeFrame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: payload})
}

// DecodeFrame parses an inbound frame and rejects frames without an
// event name.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}

// Inbound payloads. Validation tags mark the fields whose absence is a
// validation error reported to the originator.

type JoinRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type SendMessagePayload struct {
	RoomID  string `json:"roomId" validate:"required"`
	Message string `json:"message" validate:"required"`
	Type    string `json:"type,omitempty"`
}

type SendPrivateMessagePayload struct {
	TargetUserID string `json:"targetUserId" validate:"required"`
	Message      string `json:"message" validate:"required"`
	Type         string `json:"type,omitempty"`
}

// TypingPayload carries either a room or a direct target. Typing is
// fire-and-forget, so neither field is required.
type TypingPayload struct {
	RoomID       string `json:"roomId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

// UpdateStatusPayload carries a free-form status; no enumeration is
// enforced.
type UpdateStatusPayload struct {
	Status       string `json:"status"`
	CustomStatus string `json:"customStatus,omitempty"`
}

// Outbound payloads.

type ConnectedPayload struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

type RoomAckPayload struct {
	RoomID string `json:"roomId"`
}

type RoomPresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

type RoomMessagePayload struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageSentPayload struct {
	MessageID string `json:"messageId"`
}

type PrivateMessagePayload struct {
	ID           string    `json:"id"`
	FromUserID   string    `json:"fromUserId"`
	FromUsername string    `json:"fromUsername"`
	ToUserID     string    `json:"toUserId"`
	Message      string    `json:"message"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
}

type UserTypingPayload struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	RoomID       string `json:"roomId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

type StatusUpdatedPayload struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Status       string    `json:"status"`
	CustomStatus string    `json:"customStatus"`
	Timestamp    time.Time `json:"timestamp"`
}

type PresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
