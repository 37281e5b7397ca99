package dispatcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nanoncore/fcr/counters"
	"github.com/nanoncore/fcr/device"
	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/profile"
	"github.com/nanoncore/fcr/registry"
	"github.com/nanoncore/fcr/session"
	"github.com/nanoncore/fcr/transport"
)

func testRegistry(t *testing.T) *profile.Registry {
	t.Helper()
	reg, err := profile.Load("")
	if err != nil {
		t.Fatalf("profile.Load: %v", err)
	}
	return reg
}

// scriptedDialer returns a session.Dialer that always hands back a fresh
// Fake scripted as an Arista CLI echoing every command back with an "r1#"
// prompt, so multiple devices/sessions can be opened concurrently without
// sharing transport state.
func scriptedDialer() session.Dialer {
	return func(ctx context.Context, addr, username, password string, target *device.Target) (transport.Transport, error) {
		return transport.NewFake(func(data []byte) [][]byte {
			if len(data) == 1 && data[0] == 0x15 {
				return nil
			}
			cmd := strings.TrimSuffix(string(data), "\n")
			return [][]byte{[]byte(cmd + "\nr1#")}
		}), nil
	}
}

func testRecord(hostname string) *device.Record {
	return &device.Record{
		Hostname:  hostname,
		Username:  "admin",
		Password:  "admin",
		Vendor:    "arista",
		IPAddress: "fake-addr",
	}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := testRegistry(t)
	inv := StaticInventory(device.Snapshot{})
	ctr := &counters.Registry{}
	sessions := registry.New(time.Hour, ctr)
	t.Cleanup(func() { sessions.Shutdown(context.Background(), 0) })
	return New(reg, inv, sessions, ctr, scriptedDialer(), nil, nil, Config{})
}

func TestRunSingleShot(t *testing.T) {
	d := newTestDispatcher(t)
	result, err := d.Run(context.Background(), testRecord("r1"), "show version", time.Second, time.Second, "uuid-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("expected success, got %q", result.Status)
	}
	if result.UUID != "uuid-1" {
		t.Fatalf("expected UUID to be stamped onto the result")
	}
}

func TestRunFailsForUnknownVendor(t *testing.T) {
	d := newTestDispatcher(t)
	rec := testRecord("r1")
	rec.Vendor = "doesnotexist"
	_, err := d.Run(context.Background(), rec, "show version", time.Second, time.Second, "uuid-1")
	if err == nil {
		t.Fatalf("expected UNSUPPORTED_DEVICE error")
	}
	if fcrerr.CodeOf(err) != fcrerr.UnsupportedDevice {
		t.Fatalf("expected UNSUPPORTED_DEVICE, got %v", err)
	}
}

func TestBulkRunLocalRunsEveryDeviceIndependently(t *testing.T) {
	d := newTestDispatcher(t)
	req := BulkRunRequest{
		Commands: map[string][]string{
			"r1": {"show version", "show interfaces"},
			"r2": {"show version"},
		},
		Records: map[string]*device.Record{
			"r1": testRecord("r1"),
			"r2": testRecord("r2"),
		},
		Timeout:     time.Second,
		OpenTimeout: time.Second,
		UUID:        "uuid-bulk",
	}

	resp, err := d.BulkRunLocal(context.Background(), req)
	if err != nil {
		t.Fatalf("BulkRunLocal: %v", err)
	}
	if len(resp["r1"]) != 2 {
		t.Fatalf("expected 2 results for r1, got %d", len(resp["r1"]))
	}
	if len(resp["r2"]) != 1 {
		t.Fatalf("expected 1 result for r2, got %d", len(resp["r2"]))
	}
}

func TestBulkRunLocalOneDeviceFailureDoesNotAffectPeers(t *testing.T) {
	d := newTestDispatcher(t)
	ghost := testRecord("ghost")
	ghost.Vendor = "doesnotexist"

	req := BulkRunRequest{
		Commands: map[string][]string{
			"r1":    {"show version"},
			"ghost": {"show version"},
		},
		Records: map[string]*device.Record{
			"r1":    testRecord("r1"),
			"ghost": ghost,
		},
		Timeout:     time.Second,
		OpenTimeout: time.Second,
	}

	resp, err := d.BulkRunLocal(context.Background(), req)
	if err != nil {
		t.Fatalf("BulkRunLocal: %v", err)
	}
	if len(resp["r1"]) != 1 || resp["r1"][0].Status != "success" {
		t.Fatalf("expected r1 to succeed despite ghost failing: %+v", resp["r1"])
	}
	if len(resp["ghost"]) != 1 || resp["ghost"][0].Status == "success" {
		t.Fatalf("expected ghost to report a failure, got %+v", resp["ghost"])
	}
}

func TestBulkRunLocalRejectsWhenOverloaded(t *testing.T) {
	reg := testRegistry(t)
	inv := StaticInventory(device.Snapshot{})
	ctr := &counters.Registry{}
	sessions := registry.New(time.Hour, ctr)
	defer sessions.Shutdown(context.Background(), 0)
	d := New(reg, inv, sessions, ctr, scriptedDialer(), nil, nil, Config{MaxInFlightDevices: 1})

	req := BulkRunRequest{
		Commands: map[string][]string{
			"r1": {"show version"},
			"r2": {"show version"},
		},
		Records:     map[string]*device.Record{"r1": testRecord("r1"), "r2": testRecord("r2")},
		Timeout:     time.Second,
		OpenTimeout: time.Second,
	}

	_, err := d.BulkRunLocal(context.Background(), req)
	if err == nil {
		t.Fatalf("expected INSTANCE_OVERLOADED")
	}
	if fcrerr.CodeOf(err) != fcrerr.InstanceOverloaded {
		t.Fatalf("expected INSTANCE_OVERLOADED, got %v", err)
	}
}

func TestBulkRunChunksToPeersAboveThreshold(t *testing.T) {
	reg := testRegistry(t)
	inv := StaticInventory(device.Snapshot{})
	ctr := &counters.Registry{}
	sessions := registry.New(time.Hour, ctr)
	defer sessions.Shutdown(context.Background(), 0)

	var calls []string
	caller := fakePeerCaller(func(ctx context.Context, peer string, req BulkRunRequest) (BulkRunResponse, error) {
		calls = append(calls, peer)
		resp := make(BulkRunResponse, len(req.Commands))
		for h := range req.Commands {
			resp[h] = []session.CommandResult{{Status: "success"}}
		}
		return resp, nil
	})

	d := New(reg, inv, sessions, ctr, scriptedDialer(), []string{"peer-a", "peer-b"}, caller, Config{LBThreshold: 1, RemoteCallOverhead: time.Millisecond})

	req := BulkRunRequest{
		Commands: map[string][]string{
			"r1": {"show version"},
			"r2": {"show version"},
			"r3": {"show version"},
		},
		Records: map[string]*device.Record{
			"r1": testRecord("r1"), "r2": testRecord("r2"), "r3": testRecord("r3"),
		},
		Timeout:     time.Second,
		OpenTimeout: time.Second,
	}

	resp, err := d.BulkRun(context.Background(), req)
	if err != nil {
		t.Fatalf("BulkRun: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected one peer call per device chunk at threshold 1, got %d", len(calls))
	}
	for _, h := range []string{"r1", "r2", "r3"} {
		if len(resp[h]) != 1 || resp[h][0].Status != "success" {
			t.Fatalf("expected success for %s, got %+v", h, resp[h])
		}
	}
}

func TestBulkRunStaysLocalBelowThreshold(t *testing.T) {
	d := newTestDispatcher(t)
	d.cfg.LBThreshold = 100
	d.peers = []string{"peer-a"}
	d.caller = fakePeerCaller(func(ctx context.Context, peer string, req BulkRunRequest) (BulkRunResponse, error) {
		t.Fatalf("peer should not be called below threshold")
		return nil, nil
	})

	req := BulkRunRequest{
		Commands:    map[string][]string{"r1": {"show version"}},
		Records:     map[string]*device.Record{"r1": testRecord("r1")},
		Timeout:     time.Second,
		OpenTimeout: time.Second,
	}

	resp, err := d.BulkRun(context.Background(), req)
	if err != nil {
		t.Fatalf("BulkRun: %v", err)
	}
	if resp["r1"][0].Status != "success" {
		t.Fatalf("expected local success, got %+v", resp["r1"])
	}
}

func TestOpenRunCloseSessionLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	owner := session.Owner{ClientIP: "10.0.0.1", ClientPort: 5000}

	id, err := d.OpenSession(context.Background(), testRecord("r1"), time.Second, time.Hour, owner, "uuid-1")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	result, err := d.RunSession(context.Background(), id, owner, "show version", time.Second)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("expected success, got %q", result.Status)
	}

	if err := d.CloseSession(context.Background(), id, owner); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	if _, err := d.RunSession(context.Background(), id, owner, "show version", time.Second); err == nil {
		t.Fatalf("expected run_session to fail after close")
	}
}

func TestRunSessionRejectsWrongOwner(t *testing.T) {
	d := newTestDispatcher(t)
	owner := session.Owner{ClientIP: "10.0.0.1", ClientPort: 5000}
	other := session.Owner{ClientIP: "10.0.0.2", ClientPort: 5001}

	id, err := d.OpenSession(context.Background(), testRecord("r1"), time.Second, time.Hour, owner, "uuid-1")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if _, err := d.RunSession(context.Background(), id, other, "show version", time.Second); err == nil {
		t.Fatalf("expected run_session to reject the wrong owner")
	}
}

type fakePeerCaller func(ctx context.Context, peer string, req BulkRunRequest) (BulkRunResponse, error)

func (f fakePeerCaller) BulkRunLocal(ctx context.Context, peer string, req BulkRunRequest) (BulkRunResponse, error) {
	return f(ctx, peer, req)
}
