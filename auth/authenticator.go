package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
)

// Authenticator turns the bearer credential from a connection handshake
// into a resolved user identity. Any failure rejects the attempt before
// registry state exists.
type Authenticator struct {
	verifier  *TokenVerifier
	directory contract.UserDirectory
	log       *slog.Logger
}

func NewAuthenticator(verifier *TokenVerifier, directory contract.UserDirectory, log *slog.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, directory: directory, log: log}
}

// Authenticate resolves a credential to a user. It performs exactly one
// directory lookup per attempt; a lookup failure of any kind maps to
// ErrUnknownUser so the caller cannot distinguish a missing account from
// a directory outage.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (domain.User, error) {
	if credential == "" {
		return domain.User{}, errors.ErrMissingCredential
	}

	claims, err := a.verifier.Verify(credential)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", errors.ErrInvalidCredential, err)
	}

	user, err := a.directory.GetUserByID(ctx, claims.UserID)
	if err != nil {
		a.log.Warn("identity lookup failed", "user_id", claims.UserID, "err", err)
		return domain.User{}, fmt.Errorf("%w: %s", errors.ErrUnknownUser, claims.UserID)
	}

	return user, nil
}
