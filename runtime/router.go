package runtime

import (
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CloseReplaced is the close code sent to a connection superseded by a
// newer session of the same user (4000-4999 is the application range).
const CloseReplaced = 4000

// Router dispatches inbound events for active connections. Ordering
// contract: each connection's events arrive from its single reader
// goroutine, so handlers for one connection run strictly one at a time
// in arrival order; handlers across connections run concurrently and
// synchronize only through the registry and the room directory.
type Router struct {
	registry *ConnectionRegistry
	rooms    *RoomDirectory
	presence *PresenceBroadcaster
	validate *validator.Validate
	metrics  *observability.Metrics
	log      *slog.Logger
}

func NewRouter(registry *ConnectionRegistry, rooms *RoomDirectory, presence *PresenceBroadcaster,
	metrics *observability.Metrics, log *slog.Logger) *Router {
	validate := validator.New()
	// Report wire field names (roomId, message, ...) in validation errors.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Router{
		registry: registry,
		rooms:    rooms,
		presence: presence,
		validate: validate,
		metrics:  metrics,
		log:      log,
	}
}

// HandleConnect moves a freshly authenticated connection into the active
// state: it registers the session, force-closes any superseded session
// of the same user, confirms the connection to its owner and announces
// the user to everyone else.
func (r *Router) HandleConnect(ctx context.Context, s *Session) {
	replaced := r.registry.Register(s)
	if replaced != nil {
		// Last-connect-wins: the prior session is closed explicitly
		// rather than silently orphaned, and its room memberships go
		// with it so no room references a dead connection.
		r.rooms.LeaveAll(replaced.ConnectionID)
		replaced.Sink.Close(CloseReplaced, "connection_replaced")
		r.log.Info("session superseded",
			"user_id", s.User.ID,
			"old_connection_id", replaced.ConnectionID,
			"new_connection_id", s.ConnectionID)
	}

	r.send(ctx, s, domain.EventConnected, domain.ConnectedPayload{
		UserID:       s.User.ID,
		Username:     s.User.Username,
		ConnectionID: s.ConnectionID,
	})
	r.presence.UserOnline(ctx, s)
	r.log.Info("connection active",
		"user_id", s.User.ID, "connection_id", s.ConnectionID, "remote_addr", s.RemoteAddr)
}

// HandleDisconnect runs the closed-state cleanup: unregister, leave all
// rooms, announce the user offline. A connection that was already
// superseded (or already cleaned up) is a no-op, so the user does not
// appear to go offline while their newer session is live.
func (r *Router) HandleDisconnect(ctx context.Context, s *Session) {
	removed, ok := r.registry.Unregister(s.ConnectionID)

	// Membership cleanup is unconditional: a superseded connection can
	// still have an in-flight event re-join a room after its
	// replacement's cleanup ran, so its disconnect must sweep rooms
	// even when the registry no longer knows it.
	left := r.rooms.LeaveAll(s.ConnectionID)

	if !ok {
		return
	}

	r.presence.UserOffline(ctx, removed)
	r.log.Info("connection closed",
		"user_id", s.User.ID, "connection_id", s.ConnectionID, "rooms_left", len(left))
}

// Dispatch routes one inbound frame. Unexpected panics are contained at
// this boundary: they are logged, reported to the actor as a generic
// error event, and must never leave the connection unable to process
// subsequent events.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncrHandlerErrors()
			r.log.Error("handler panic recovered",
				"connection_id", s.ConnectionID, "panic", rec)
			r.sendError(ctx, s, "internal server error")
		}
	}()

	frame, err := domain.DecodeFrame(raw)
	if err != nil {
		r.sendError(ctx, s, "invalid message format")
		return
	}
	r.metrics.IncrEventsRouted()

	switch frame.Event {
	case domain.EventJoinRoom:
		r.handleJoinRoom(ctx, s, frame)
	case domain.EventLeaveRoom:
		r.handleLeaveRoom(ctx, s, frame)
	case domain.EventSendMessage:
		r.handleRoomMessage(ctx, s, frame)
	case domain.EventSendPrivateMessage:
		r.handlePrivateMessage(ctx, s, frame)
	case domain.EventTypingStart:
		r.handleTyping(ctx, s, frame, domain.EventUserTypingStart)
	case domain.EventTypingStop:
		r.handleTyping(ctx, s, frame, domain.EventUserTypingStop)
	case domain.EventUpdateStatus:
		r.handleUpdateStatus(ctx, s, frame)
	case domain.EventPing:
		r.handlePing(ctx, s)
	default:
		r.log.Debug("unknown event ignored", "event", frame.Event, "connection_id", s.ConnectionID)
	}
}

func (r *Router) handleJoinRoom(ctx context.Context, s *Session, frame domain.Frame) {
	var p domain.JoinRoomPayload
	if msg, ok := r.decode(frame, &p); !ok {
		r.sendError(ctx, s, msg)
		return
	}

	r.rooms.Join(p.RoomID, s.ConnectionID)
	r.send(ctx, s, domain.EventJoinedRoom, domain.RoomAckPayload{RoomID: p.RoomID})

	notice := domain.RoomPresencePayload{UserID: s.User.ID, Username: s.User.Username, RoomID: p.RoomID}
	r.sendToRoom(ctx, p.RoomID, domain.EventUserJoinedRoom, notice, s.ConnectionID)
}

func (r *Router) handleLeaveRoom(ctx context.Context, s *Session, frame domain.Frame) {
	var p domain.LeaveRoomPayload
	if msg, ok := r.decode(frame, &p); !ok {
		r.sendError(ctx, s, msg)
		return
	}

	r.rooms.Leave(p.RoomID, s.ConnectionID)
	r.send(ctx, s, domain.EventLeftRoom, domain.RoomAckPayload{RoomID: p.RoomID})

	notice := domain.RoomPresencePayload{UserID: s.User.ID, Username: s.User.Username, RoomID: p.RoomID}
	r.sendToRoom(ctx, p.RoomID, domain.EventUserLeftRoom, notice, s.ConnectionID)
}

func (r *Router) handleRoomMessage(ctx context.Context, s *Session, frame domain.Frame) {
	var p domain.SendMessagePayload
	if msg, ok := r.decode(frame, &p); !ok {
		r.sendError(ctx, s, msg)
		return
	}

	env := domain.NewEnvelope(s.User, p.Message, p.Type,
		domain.Target{Kind: domain.TargetRoom, RoomID: p.RoomID})

	// Delivered to the membership as it stands at dispatch time; the
	// sender receives a copy only through its own membership.
	r.sendToRoom(ctx, p.RoomID, domain.EventRoomMessage, domain.RoomMessagePayload{
		ID:        env.ID,
		RoomID:    p.RoomID,
		UserID:    env.SenderID,
		Username:  env.SenderName,
		Message:   env.Body,
		Type:      env.Type,
		Timestamp: env.At,
	}, "")

	r.send(ctx, s, domain.EventMessageSent, domain.MessageSentPayload{MessageID: env.ID})
}

func (r *Router) handlePrivateMessage(ctx context.Context, s *Session, frame domain.Frame) {
	var p domain.SendPrivateMessagePayload
	if msg, ok := r.decode(frame, &p); !ok {
		r.sendError(ctx, s, msg)
		return
	}

	targetConn, ok := r.registry.Lookup(p.TargetUserID)
	if !ok {
		r.sendError(ctx, s, "Target user is offline")
		return
	}

	env := domain.NewEnvelope(s.User, p.Message, p.Type,
		domain.Target{Kind: domain.TargetUser, UserID: p.TargetUserID})

	r.sendToConn(ctx, targetConn, domain.EventPrivateMessage, domain.PrivateMessagePayload{
		ID:           env.ID,
		FromUserID:   env.SenderID,
		FromUsername: env.SenderName,
		ToUserID:     p.TargetUserID,
		Message:      env.Body,
		Type:         env.Type,
		Timestamp:    env.At,
	})

	r.send(ctx, s, domain.EventPrivateMessageSent, domain.MessageSentPayload{MessageID: env.ID})
}

// handleTyping is fire-and-forget: malformed payloads and offline
// targets are dropped without an error event, unlike sends.
func (r *Router) handleTyping(ctx context.Context, s *Session, frame domain.Frame, outEvent string) {
	var p domain.TypingPayload
	if _, ok := r.decode(frame, &p); !ok {
		return
	}

	notice := domain.UserTypingPayload{
		UserID:       s.User.ID,
		Username:     s.User.Username,
		RoomID:       p.RoomID,
		TargetUserID: p.TargetUserID,
	}

	switch {
	case p.RoomID != "":
		r.sendToRoom(ctx, p.RoomID, outEvent, notice, s.ConnectionID)
	case p.TargetUserID != "":
		if targetConn, ok := r.registry.Lookup(p.TargetUserID); ok {
			r.sendToConn(ctx, targetConn, outEvent, notice)
		}
	}
}

func (r *Router) handleUpdateStatus(ctx context.Context, s *Session, frame domain.Frame) {
	var p domain.UpdateStatusPayload
	if msg, ok := r.decode(frame, &p); !ok {
		r.sendError(ctx, s, msg)
		return
	}

	info, ok := r.registry.UpdateStatus(s.ConnectionID, p.Status, p.CustomStatus)
	if !ok {
		return
	}
	r.presence.StatusUpdated(ctx, info)
}

func (r *Router) handlePing(ctx context.Context, s *Session) {
	r.send(ctx, s, domain.EventPong, domain.PongPayload{Timestamp: time.Now().UTC()})
}

// decode unmarshals and validates an inbound payload. On failure it
// returns a wire-ready message naming the first offending field.
func (r *Router) decode(frame domain.Frame, out any) (string, bool) {
	data := frame.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "invalid message format", false
	}

	if err := r.validate.Struct(out); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Sprintf("%s is required", fieldErrs[0].Field()), false
		}
		return "invalid payload", false
	}
	return "", true
}

func (r *Router) send(ctx context.Context, s *Session, event string, payload any) {
	frame, err := domain.EncodeFrame(event, payload)
	if err != nil {
		r.log.Error("failed to encode frame", "event", event, "err", err)
		return
	}
	if err := s.Sink.Consume(ctx, frame); err != nil {
		r.metrics.IncrEventsDropped()
		r.log.Debug("frame dropped", "event", event, "connection_id", s.ConnectionID, "err", err)
	}
}

func (r *Router) sendToConn(ctx context.Context, connectionID, event string, payload any) {
	s, ok := r.registry.Get(connectionID)
	if !ok {
		return
	}
	r.send(ctx, s, event, payload)
}

// sendToRoom delivers one event to the room membership at call time,
// optionally excluding a connection (the actor, for join/leave/typing
// notices).
func (r *Router) sendToRoom(ctx context.Context, roomID, event string, payload any, excludeConnID string) {
	for _, member := range r.rooms.Members(roomID) {
		if member == excludeConnID {
			continue
		}
		r.sendToConn(ctx, member, event, payload)
	}
}

// sendError emits exactly one structured error event to the originator.
// The connection stays active.
func (r *Router) sendError(ctx context.Context, s *Session, message string) {
	r.send(ctx, s, domain.EventError, domain.ErrorPayload{Message: message})
}
