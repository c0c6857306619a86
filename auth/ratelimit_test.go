package auth

import (
	"testing"
	"time"

	"chat-relay/errors"

	"github.com/stretchr/testify/require"
)

// fakeClock lets the window advance without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(ceiling int, window time.Duration) (*AddressLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	limiter := NewAddressLimiter(LimiterConf{
		Window:  window,
		Ceiling: ceiling,
		Clock:   clock.Now,
	})
	return limiter, clock
}

func TestAddressLimiter_Admits_Up_To_Ceiling(t *testing.T) {
	req := require.New(t)
	limiter, _ := newTestLimiter(3, time.Minute)
	defer limiter.Close()

	// Given a fresh address, the first C attempts pass
	for i := 0; i < 3; i++ {
		req.NoError(limiter.Allow("10.0.0.1"))
	}

	// When the ceiling is reached
	err := limiter.Allow("10.0.0.1")

	// Then the next attempt in the same window is rejected
	req.ErrorIs(err, errors.ErrRateLimitExceeded)

	// And rejected attempts do not extend the count: still rejected
	req.ErrorIs(limiter.Allow("10.0.0.1"), errors.ErrRateLimitExceeded)
}

func TestAddressLimiter_Window_Expiry_Resets_The_Count(t *testing.T) {
	req := require.New(t)
	limiter, clock := newTestLimiter(2, time.Minute)
	defer limiter.Close()

	// Given a saturated window
	req.NoError(limiter.Allow("10.0.0.1"))
	req.NoError(limiter.Allow("10.0.0.1"))
	req.ErrorIs(limiter.Allow("10.0.0.1"), errors.ErrRateLimitExceeded)

	// When the window passes
	clock.Advance(time.Minute + time.Second)

	// Then attempts are admitted again
	req.NoError(limiter.Allow("10.0.0.1"))
}

func TestAddressLimiter_Addresses_Are_Independent(t *testing.T) {
	req := require.New(t)
	limiter, _ := newTestLimiter(1, time.Minute)
	defer limiter.Close()

	// Given one saturated address
	req.NoError(limiter.Allow("10.0.0.1"))
	req.ErrorIs(limiter.Allow("10.0.0.1"), errors.ErrRateLimitExceeded)

	// Then another address is unaffected
	req.NoError(limiter.Allow("10.0.0.2"))
}

func TestAddressLimiter_Sweep_Drops_Stale_Counters(t *testing.T) {
	req := require.New(t)
	limiter, clock := newTestLimiter(5, time.Minute)
	defer limiter.Close()

	// Given two addresses with counters
	req.NoError(limiter.Allow("10.0.0.1"))
	req.NoError(limiter.Allow("10.0.0.2"))

	// When well over a window passes and the sweep runs
	clock.Advance(3 * time.Minute)
	limiter.sweepOnce(clock.Now())

	// Then the stale counters are gone
	limiter.mu.Lock()
	remaining := len(limiter.counters)
	limiter.mu.Unlock()
	req.Zero(remaining)
}

func TestAddressLimiter_Close_Is_Idempotent(t *testing.T) {
	limiter, _ := newTestLimiter(1, time.Minute)

	limiter.Close()
	limiter.Close()
}
