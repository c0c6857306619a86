//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
)

// EventSink is one connection's outbound side. Consume hands a fully
// encoded frame to the connection; it must never block the caller beyond
// the supplied context.
type EventSink interface {
	Consume(ctx context.Context, frame []byte) error
	// Close tears the underlying channel down with a websocket close code.
	// Safe to call more than once.
	Close(code int, reason string)
}

// UserDirectory resolves an opaque user id to an identity. It is the
// narrow seam to the external account system; the core performs exactly
// one lookup per connection attempt.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
}
