// Package ratelimit limits requests per client key with token buckets.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTTL = 10 * time.Minute

	minCleanupInterval = 10 * time.Second
	maxCleanupInterval = time.Minute
)

var ErrAlreadyStarted = errors.New("ratelimit: already started")

type Config struct {
	Rate  float64       // tokens per second
	Burst int           // bucket size
	TTL   time.Duration // idle time after which a client's bucket is forgotten
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type RateLimit struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	clients map[string]*entry
	now     func() time.Time

	stopCh  chan struct{}
	stopped chan struct{}
}

func New(cfg Config) *RateLimit {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RateLimit{
		limit:   rate.Limit(cfg.Rate),
		burst:   cfg.Burst,
		ttl:     ttl,
		clients: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow consumes a token from key's bucket and reports whether one was available.
func (rl *RateLimit) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	e, ok := rl.clients[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = e
	}
	e.lastAccess = now
	limiter := e.limiter
	rl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (rl *RateLimit) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.clients)
}

// Start runs the janitor that forgets idle clients.
func (rl *RateLimit) Start() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.stopCh != nil {
		return ErrAlreadyStarted
	}

	rl.stopCh = make(chan struct{})
	rl.stopped = make(chan struct{})

	go rl.run(rl.stopCh, rl.stopped)

	return nil
}

// Stop halts the janitor and waits for it to exit. Calling Stop on a limiter that was never
// started is a no-op.
func (rl *RateLimit) Stop() {
	rl.mu.Lock()
	stopCh, stopped := rl.stopCh, rl.stopped
	rl.stopCh, rl.stopped = nil, nil
	rl.mu.Unlock()

	if stopCh == nil {
		return
	}

	close(stopCh)
	<-stopped
}

func (rl *RateLimit) run(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(min(max(rl.ttl/2, minCleanupInterval), maxCleanupInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-stopCh:
			return
		}
	}
}

func (rl *RateLimit) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, e := range rl.clients {
		if now.Sub(e.lastAccess) > rl.ttl {
			delete(rl.clients, key)
		}
	}
}
