package domain

import "time"

// User is the identity resolved once per connection attempt by the
// authenticator. The core never mutates it.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
