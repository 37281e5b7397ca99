// Package counters implements the process-wide counter table described
// in the specification's observability hooks: a name to integer mapping
// with atomic increment (by a signed delta) and set, read-only to callers other than the
// component that owns a given name.
package counters

import (
	"sync"
	"sync/atomic"
)

// Registry is a concurrency-safe map from counter name to an int64.
// Values are not monotonic: Inc accepts negative deltas and Set
// overwrites. The zero value is ready to use.
type Registry struct {
	counters sync.Map
}

type entry struct {
	v atomic.Int64
}

// Inc increments the named counter by delta and returns its new value.
func (r *Registry) Inc(name string, delta int64) int64 {
	e := r.entryFor(name)
	return e.v.Add(delta)
}

// Set stores v as the named counter's value.
func (r *Registry) Set(name string, v int64) {
	r.entryFor(name).v.Store(v)
}

// Get returns the current value of the named counter (0 if never touched).
func (r *Registry) Get(name string) int64 {
	e, ok := r.counters.Load(name)
	if !ok {
		return 0
	}
	return e.(*entry).v.Load()
}

// Snapshot returns a point-in-time copy of every counter, suitable for a
// metrics exporter to consume (the exporter itself is out of core scope).
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	r.counters.Range(func(key, value interface{}) bool {
		out[key.(string)] = value.(*entry).v.Load()
		return true
	})
	return out
}

func (r *Registry) entryFor(name string) *entry {
	if e, ok := r.counters.Load(name); ok {
		return e.(*entry)
	}
	e, _ := r.counters.LoadOrStore(name, &entry{})
	return e.(*entry)
}
