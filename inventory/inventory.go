// Package inventory owns the fleet's device records: a pluggable fetcher
// refreshed on an interval, published as an immutable snapshot so readers
// never observe a partially updated map.
package inventory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nanoncore/fcr/device"
	"github.com/nanoncore/fcr/fcrlog"
)

// Snapshot is an alias for device.Snapshot: the fleet's immutable,
// hostname-keyed device map. It lives as a type in device so the
// resolver can depend on it without an import cycle back here.
type Snapshot = device.Snapshot

// Fetcher produces a fresh Snapshot. Implementations reach out to
// whatever external system of record the deployment uses; FCR treats
// that system as a collaborator, not something it owns.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context) (Snapshot, error)

func (f FetcherFunc) Fetch(ctx context.Context) (Snapshot, error) { return f(ctx) }

// StaticFetcher always returns the same Snapshot; it exists for tests
// and for deployments that manage their fleet through the vendor-config
// style static file rather than a live inventory system.
type StaticFetcher struct {
	Snapshot Snapshot
}

func (f StaticFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	return f.Snapshot, nil
}

// Source holds the currently published Snapshot and refreshes it from a
// Fetcher on a fixed interval. The zero value is not usable; build one
// with NewSource.
type Source struct {
	fetcher    Fetcher
	interval   time.Duration
	nameFilter func(hostname string) bool

	current atomic.Pointer[Snapshot]

	stop chan struct{}
	done chan struct{}
}

// NewSource builds a Source and performs the first fetch synchronously,
// so callers never observe an empty snapshot immediately after
// construction. nameFilter may be nil to admit every record.
func NewSource(ctx context.Context, fetcher Fetcher, interval time.Duration, nameFilter func(string) bool) (*Source, error) {
	s := &Source{
		fetcher:    fetcher,
		interval:   interval,
		nameFilter: nameFilter,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	go s.loop()
	return s, nil
}

// Current returns the most recently published Snapshot.
func (s *Source) Current() Snapshot {
	return *s.current.Load()
}

// Stop halts the background refresh loop and waits for it to exit,
// including any fetch already in progress.
func (s *Source) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Source) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if err := s.refresh(ctx); err != nil {
				fcrlog.Logger.WithError(err).Warn("inventory refresh failed, keeping previous snapshot")
			}
			cancel()
		}
	}
}

func (s *Source) refresh(ctx context.Context) error {
	snap, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	if s.nameFilter != nil {
		filtered := make(Snapshot, len(snap))
		for name, rec := range snap {
			if s.nameFilter(name) {
				filtered[name] = rec
			}
		}
		snap = filtered
	}

	s.current.Store(&snap)
	return nil
}
