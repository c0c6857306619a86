package services

import (
	"context"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/runtime"

	"github.com/samber/lo"
)

// systemSender is the authorship stamped on operator notifications.
var systemSender = domain.User{ID: "system", Username: "system"}

type IGatewayService interface {
	Stats(ctx context.Context) GatewayStats
	ListOnline() []runtime.ConnectionInfo
	RoomMembers(roomID string) []runtime.ConnectionInfo
	NotifyUser(ctx context.Context, userID, message string) error
	NotifyRoom(ctx context.Context, roomID, message string) int
	NotifyAll(ctx context.Context, message string) int
}

// GatewayStats is the admin-surface view of the gateway: presence
// counts, event counters and process-level resource usage.
type GatewayStats struct {
	UsersOnline     int                        `json:"users_online"`
	Connections     int                        `json:"connections"`
	Rooms           int                        `json:"rooms"`
	Events          observability.Snapshot     `json:"events"`
	Process         observability.ProcessStats `json:"process"`
	ProcessStatsErr string                     `json:"process_stats_error,omitempty"`
}

// GatewayService exposes the live gateway state to the admin surface
// and lets operators push notifications into it.
type GatewayService struct {
	registry *runtime.ConnectionRegistry
	rooms    *runtime.RoomDirectory
	metrics  *observability.Metrics
}

func NewGatewayService(registry *runtime.ConnectionRegistry, rooms *runtime.RoomDirectory,
	metrics *observability.Metrics) *GatewayService {
	return &GatewayService{registry: registry, rooms: rooms, metrics: metrics}
}

func (s *GatewayService) Stats(_ context.Context) GatewayStats {
	users, connections := s.registry.Counts()

	stats := GatewayStats{
		UsersOnline: users,
		Connections: connections,
		Rooms:       s.rooms.Count(),
		Events:      s.metrics.Snapshot(),
	}

	process, err := observability.SelfStats()
	if err != nil {
		stats.ProcessStatsErr = err.Error()
	} else {
		stats.Process = process
	}
	return stats
}

func (s *GatewayService) ListOnline() []runtime.ConnectionInfo {
	return s.registry.Snapshot()
}

// RoomMembers resolves a room's member connection ids to their session
// projections. Members that raced a disconnect are skipped.
func (s *GatewayService) RoomMembers(roomID string) []runtime.ConnectionInfo {
	return lo.FilterMap(s.rooms.Members(roomID), func(connID string, _ int) (runtime.ConnectionInfo, bool) {
		return s.registry.Info(connID)
	})
}

// NotifyUser delivers an operator message to one user as a private
// message from the system sender.
func (s *GatewayService) NotifyUser(ctx context.Context, userID, message string) error {
	connID, ok := s.registry.Lookup(userID)
	if !ok {
		return errors.ErrTargetOffline
	}
	session, ok := s.registry.Get(connID)
	if !ok {
		return errors.ErrTargetOffline
	}

	env := domain.NewEnvelope(systemSender, message, domain.DefaultMessageType,
		domain.Target{Kind: domain.TargetUser, UserID: userID})
	return s.deliver(ctx, session, domain.EventPrivateMessage, domain.PrivateMessagePayload{
		ID:           env.ID,
		FromUserID:   env.SenderID,
		FromUsername: env.SenderName,
		ToUserID:     userID,
		Message:      env.Body,
		Type:         env.Type,
		Timestamp:    env.At,
	})
}

// NotifyRoom delivers an operator message to every member of a room and
// reports how many connections received it.
func (s *GatewayService) NotifyRoom(ctx context.Context, roomID, message string) int {
	env := domain.NewEnvelope(systemSender, message, domain.DefaultMessageType,
		domain.Target{Kind: domain.TargetRoom, RoomID: roomID})
	payload := domain.RoomMessagePayload{
		ID:        env.ID,
		RoomID:    roomID,
		UserID:    env.SenderID,
		Username:  env.SenderName,
		Message:   env.Body,
		Type:      env.Type,
		Timestamp: env.At,
	}

	delivered := 0
	for _, connID := range s.rooms.Members(roomID) {
		session, ok := s.registry.Get(connID)
		if !ok {
			continue
		}
		if err := s.deliver(ctx, session, domain.EventRoomMessage, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// NotifyAll broadcasts an operator message to every live connection.
func (s *GatewayService) NotifyAll(ctx context.Context, message string) int {
	env := domain.NewEnvelope(systemSender, message, domain.DefaultMessageType,
		domain.Target{Kind: domain.TargetBroadcast})
	payload := domain.RoomMessagePayload{
		ID:        env.ID,
		UserID:    env.SenderID,
		Username:  env.SenderName,
		Message:   env.Body,
		Type:      env.Type,
		Timestamp: env.At,
	}

	delivered := 0
	for _, session := range s.registry.Sessions() {
		if err := s.deliver(ctx, session, domain.EventRoomMessage, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

func (s *GatewayService) deliver(ctx context.Context, session *runtime.Session, event string, payload any) error {
	frame, err := domain.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	if err := session.Sink.Consume(ctx, frame); err != nil {
		s.metrics.IncrEventsDropped()
		return err
	}
	return nil
}
