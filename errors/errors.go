package errors

import "fmt"

// Admission failures. They terminate a connection attempt before any
// registry or room state exists and are never broadcast.
var (
	ErrMissingCredential = fmt.Errorf("missing credential")
	ErrInvalidCredential = fmt.Errorf("invalid credential")
	ErrUnknownUser       = fmt.Errorf("unknown user")
	ErrRateLimitExceeded = fmt.Errorf("rate limit exceeded")
)

// In-session failures. They are reported to the originating connection
// only and never close it.
var (
	ErrTargetOffline = fmt.Errorf("Target user is offline")
)

// Storage-level failures.
var (
	ErrUserNotFound = fmt.Errorf("user not found")
)
