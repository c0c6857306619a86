package runtime

import (
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// PresenceBroadcaster emits online/offline/status notices to the whole
// gateway. One notification per transition, no batching or coalescing.
type PresenceBroadcaster struct {
	registry *ConnectionRegistry
	metrics  *observability.Metrics
	log      *slog.Logger
}

func NewPresenceBroadcaster(registry *ConnectionRegistry, metrics *observability.Metrics, log *slog.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{registry: registry, metrics: metrics, log: log}
}

// UserOnline notifies every connection except the one that just came up.
func (b *PresenceBroadcaster) UserOnline(ctx context.Context, s *Session) {
	b.fanOut(ctx, domain.EventUserOnline, domain.PresencePayload{
		UserID:   s.User.ID,
		Username: s.User.Username,
	}, s.ConnectionID)
}

// UserOffline notifies all remaining connections. The departed session
// is already unregistered at this point, so no exclusion is needed.
func (b *PresenceBroadcaster) UserOffline(ctx context.Context, s *Session) {
	b.fanOut(ctx, domain.EventUserOffline, domain.PresencePayload{
		UserID:   s.User.ID,
		Username: s.User.Username,
	}, "")
}

// StatusUpdated broadcasts a status change to every connection,
// the originator included. The delivery is global rather than scoped to
// shared rooms; scoping it is a candidate future change.
func (b *PresenceBroadcaster) StatusUpdated(ctx context.Context, info ConnectionInfo) {
	b.fanOut(ctx, domain.EventUserStatusUpdated, domain.StatusUpdatedPayload{
		UserID:       info.UserID,
		Username:     info.Username,
		Status:       info.Status,
		CustomStatus: info.CustomStatus,
		Timestamp:    time.Now().UTC(),
	}, "")
}

func (b *PresenceBroadcaster) fanOut(ctx context.Context, event string, payload any, excludeConnID string) {
	frame, err := domain.EncodeFrame(event, payload)
	if err != nil {
		b.log.Error("failed to encode presence frame", "event", event, "err", err)
		return
	}

	for _, s := range b.registry.Sessions() {
		if s.ConnectionID == excludeConnID {
			continue
		}
		if err := s.Sink.Consume(ctx, frame); err != nil {
			b.metrics.IncrEventsDropped()
			b.log.Debug("presence frame dropped", "event", event, "connection_id", s.ConnectionID, "err", err)
		}
	}
}
