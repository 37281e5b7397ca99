// Package registry implements the Session Registry: the keyed store of
// live sessions with owner affinity, idle sweeping, and graceful
// shutdown.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanoncore/fcr/counters"
	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/fcrlog"
	"github.com/nanoncore/fcr/session"
)

// Registry holds every live session, keyed by its assigned id. Owner
// affinity is checked on Lookup, not encoded in the key, so the id alone
// is a stable handle for logging and idle sweeping.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*session.Session
	nextID   atomic.Int64

	sweepInterval time.Duration
	stop          chan struct{}
	done          chan struct{}

	closing atomic.Bool

	counters *counters.Registry
}

// New builds a Registry and starts its idle-sweep goroutine. ctr may be
// nil, in which case eviction counting is skipped (tests that don't care
// about counters can pass nil rather than wiring up a Registry).
func New(sweepInterval time.Duration, ctr *counters.Registry) *Registry {
	r := &Registry{
		sessions:      make(map[int64]*session.Session),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		counters:      ctr,
	}
	go r.sweepLoop()
	return r
}

// Register assigns a monotonically increasing id to s, records its
// owner, and makes it visible to future Lookup calls. It fails if the
// registry is shutting down.
func (r *Registry) Register(s *session.Session, owner session.Owner) (int64, error) {
	if r.closing.Load() {
		return 0, fcrerr.New(fcrerr.Runtime, "registry is shutting down, refusing new sessions")
	}

	id := r.nextID.Add(1)
	s.ID = id
	s.Owner = owner

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	fcrlog.WithSession(id).WithField("device", s.Hostname).Info("session registered")
	return id, nil
}

// Lookup returns the session for id only if owner matches the session's
// registered owner; any mismatch — including an unknown id — is
// surfaced uniformly as SessionException("session not found") so a
// caller learns nothing about sessions it doesn't own.
func (r *Registry) Lookup(id int64, owner session.Owner) (*session.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || s.Owner != owner {
		return nil, fcrerr.NewSessionException("session not found")
	}
	return s, nil
}

// Evict closes the session's transport and removes it from the
// registry. It is safe to call more than once.
func (r *Registry) Evict(id int64) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	if r.counters != nil {
		r.counters.Inc(counters.SessionsEvicted, 1)
	}
	if err := s.Close(); err != nil {
		fcrlog.WithSession(id).WithError(err).Warn("error closing evicted session")
	}
}

// Len returns the number of currently registered sessions, for
// diagnostics and load-shedding decisions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

func (r *Registry) sweepIdle() {
	r.mu.RLock()
	var idle []int64
	for id, s := range r.sessions {
		if s.Idle() {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range idle {
		fcrlog.WithSession(id).Info("evicting idle session")
		r.Evict(id)
	}
}

// Shutdown stops accepting new sessions and stops the sweep loop, then
// waits until exitMaxWait has elapsed or ctx is done, for the whole
// period whether or not any command is in flight, and then evicts every
// remaining session. Evicting a session whose command is still running
// blocks until that command returns; nothing is force-closed.
func (r *Registry) Shutdown(ctx context.Context, exitMaxWait time.Duration) {
	r.closing.Store(true)
	close(r.stop)
	<-r.done

	waitCtx, cancel := context.WithTimeout(ctx, exitMaxWait)
	defer cancel()
	<-waitCtx.Done()

	r.mu.RLock()
	remaining := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		remaining = append(remaining, id)
	}
	r.mu.RUnlock()

	for _, id := range remaining {
		r.Evict(id)
	}
}
