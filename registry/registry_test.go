package registry

import (
	"context"
	"testing"
	"time"

	"github.com/nanoncore/fcr/counters"
	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/session"
)

func openTestSession(t *testing.T, idleTimeout time.Duration) *session.Session {
	t.Helper()
	target, fake := aristaTestTarget(t)
	s, err := session.Open(context.Background(), fakeTestDialer(fake), target, "r1", "uuid-1", idleTimeout, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestRegisterAndLookupWithMatchingOwner(t *testing.T) {
	r := New(time.Hour, nil)
	defer r.Shutdown(context.Background(), 0)

	s := openTestSession(t, time.Hour)
	owner := session.Owner{ClientIP: "10.0.0.1", ClientPort: 5000}

	id, err := r.Register(s, owner)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Lookup(id, owner)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != s {
		t.Fatalf("expected the same session back")
	}
}

func TestLookupFailsForWrongOwner(t *testing.T) {
	r := New(time.Hour, nil)
	defer r.Shutdown(context.Background(), 0)

	s := openTestSession(t, time.Hour)
	owner := session.Owner{ClientIP: "10.0.0.1", ClientPort: 5000}
	id, err := r.Register(s, owner)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	other := session.Owner{ClientIP: "10.0.0.2", ClientPort: 5001}
	_, err = r.Lookup(id, other)
	if err == nil {
		t.Fatalf("expected an error for mismatched owner")
	}
	if fcrerr.CodeOf(err) != fcrerr.Validation {
		t.Fatalf("expected a SessionException (VALIDATION code), got %v", err)
	}
}

func TestLookupFailsForUnknownID(t *testing.T) {
	r := New(time.Hour, nil)
	defer r.Shutdown(context.Background(), 0)

	_, err := r.Lookup(999, session.Owner{})
	if err == nil {
		t.Fatalf("expected an error for an unknown session id")
	}
}

func TestEvictRemovesAndCloses(t *testing.T) {
	ctr := &counters.Registry{}
	r := New(time.Hour, ctr)
	defer r.Shutdown(context.Background(), 0)

	s := openTestSession(t, time.Hour)
	owner := session.Owner{ClientIP: "10.0.0.1", ClientPort: 5000}
	id, _ := r.Register(s, owner)

	r.Evict(id)
	if r.Len() != 0 {
		t.Fatalf("expected registry to be empty after evict")
	}
	if s.State() != session.Closed {
		t.Fatalf("expected evicted session to be closed, got %s", s.State())
	}
	if got := ctr.Get(counters.SessionsEvicted); got != 1 {
		t.Fatalf("expected SessionsEvicted to be incremented once, got %d", got)
	}

	// Evicting twice must not panic, and must not double-count.
	r.Evict(id)
	if got := ctr.Get(counters.SessionsEvicted); got != 1 {
		t.Fatalf("expected a second evict of the same id not to re-increment, got %d", got)
	}
}

func TestRegisterRefusesAfterShutdown(t *testing.T) {
	r := New(time.Hour, nil)
	r.Shutdown(context.Background(), 0)

	s := openTestSession(t, time.Hour)
	if _, err := r.Register(s, session.Owner{}); err == nil {
		t.Fatalf("expected Register to fail once the registry is shutting down")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	ctr := &counters.Registry{}
	r := New(10*time.Millisecond, ctr)
	defer r.Shutdown(context.Background(), 0)

	s := openTestSession(t, 20*time.Millisecond)
	id, _ := r.Register(s, session.Owner{})

	time.Sleep(100 * time.Millisecond)

	if r.Len() != 0 {
		t.Fatalf("expected idle sweep to evict the session")
	}
	if _, err := r.Lookup(id, session.Owner{}); err == nil {
		t.Fatalf("expected lookup to fail after idle eviction")
	}
	if got := ctr.Get(counters.SessionsEvicted); got != 1 {
		t.Fatalf("expected the idle sweep to count the eviction, got %d", got)
	}
}
