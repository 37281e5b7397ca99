package counters

import (
	"sync"
	"testing"

	"github.com/nanoncore/fcr/fcrerr"
)

func TestIncAndGet(t *testing.T) {
	var r Registry
	r.Inc(SessionsOpen, 1)
	r.Inc(SessionsOpen, 1)
	if got := r.Get(SessionsOpen); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestSetOverwrites(t *testing.T) {
	var r Registry
	r.Inc(CommandsRun, 5)
	r.Set(CommandsRun, 0)
	if got := r.Get(CommandsRun); got != 0 {
		t.Fatalf("expected 0 after Set, got %d", got)
	}
}

func TestConcurrentIncrement(t *testing.T) {
	var r Registry
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Inc(SessionsTotal, 1)
		}()
	}
	wg.Wait()
	if got := r.Get(SessionsTotal); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestErrorCounterName(t *testing.T) {
	name := ErrorCounterName(fcrerr.DeviceError)
	if name != "fcr.errors.DEVICE_ERROR" {
		t.Fatalf("unexpected name: %s", name)
	}
}

func TestSnapshot(t *testing.T) {
	var r Registry
	r.Inc(BulkDevices, 3)
	r.Inc(VendorCounterName("arista"), 2)

	snap := r.Snapshot()
	if snap[BulkDevices] != 3 {
		t.Fatalf("expected BulkDevices=3 in snapshot, got %v", snap)
	}
	if snap[VendorCounterName("arista")] != 2 {
		t.Fatalf("expected vendor counter in snapshot, got %v", snap)
	}
}
