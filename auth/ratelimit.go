package auth

import (
	"chat-relay/errors"
	"sync"
	"time"
)

// LimiterConf tunes the fixed-window admission gate.
type LimiterConf struct {
	Window  time.Duration    // window length, default 60s
	Ceiling int              // attempts per address per window, default 10
	Sweep   time.Duration    // stale-counter sweep period, default 5 windows
	Clock   func() time.Time // injectable clock for tests; nil => time.Now
}

func (c *LimiterConf) norm() {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 10
	}
	if c.Sweep <= 0 {
		c.Sweep = 5 * c.Window
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// AddressLimiter admits or rejects connection attempts per remote address
// using a fixed window. It runs before authentication so a flood of
// unauthenticated attempts cannot exhaust the identity lookup path.
type AddressLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	conf     LimiterConf

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewAddressLimiter(conf LimiterConf) *AddressLimiter {
	conf.norm()
	l := &AddressLimiter{
		counters: make(map[string]*windowCounter),
		conf:     conf,
		stopCh:   make(chan struct{}),
	}
	go l.sweeper()
	return l
}

// Allow records one attempt from addr. The first attempt of a window
// resets the counter to one; once the ceiling is reached further attempts
// return ErrRateLimitExceeded without incrementing.
func (l *AddressLimiter) Allow(addr string) error {
	now := l.conf.Clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[addr]
	if !ok || now.After(c.resetAt) {
		l.counters[addr] = &windowCounter{count: 1, resetAt: now.Add(l.conf.Window)}
		return nil
	}

	if c.count >= l.conf.Ceiling {
		return errors.ErrRateLimitExceeded
	}
	c.count++
	return nil
}

// Close stops the background sweeper.
func (l *AddressLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *AddressLimiter) sweeper() {
	t := time.NewTicker(l.conf.Sweep)
	defer t.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-t.C:
			l.sweepOnce(l.conf.Clock())
		}
	}
}

// sweepOnce drops counters whose window expired long enough ago that the
// next attempt would reset them anyway. Counters are otherwise never
// removed, so long-lived processes with high address churn rely on this.
func (l *AddressLimiter) sweepOnce(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, c := range l.counters {
		if now.Sub(c.resetAt) > l.conf.Window {
			delete(l.counters, addr)
		}
	}
}
