// Package dispatcher implements the six externally visible RPC
// operations: run, bulk_run, bulk_run_local, open_session, run_session,
// close_session (plus their raw variants), including bulk fan-out,
// peer-chunk forwarding, and load shedding.
package dispatcher

import (
	"context"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nanoncore/fcr/counters"
	"github.com/nanoncore/fcr/device"
	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/fcrlog"
	"github.com/nanoncore/fcr/profile"
	"github.com/nanoncore/fcr/registry"
	"github.com/nanoncore/fcr/session"
	"github.com/nanoncore/fcr/transport"
)

// InventorySource supplies the current fleet snapshot; inventory.Source
// satisfies it, and tests can substitute a fixed snapshot.
type InventorySource interface {
	Current() device.Snapshot
}

// staticInventory adapts a fixed snapshot to InventorySource for tests
// and single-device deployments that don't need a refresh loop.
type staticInventory struct{ snap device.Snapshot }

func (s staticInventory) Current() device.Snapshot { return s.snap }

// StaticInventory builds an InventorySource over a fixed snapshot.
func StaticInventory(snap device.Snapshot) InventorySource { return staticInventory{snap} }

// PeerCaller forwards a bulk_run_local request to another FCR instance.
// The rpc package's gRPC client implements this; it is an interface here
// so Dispatcher has no direct dependency on the wire format.
type PeerCaller interface {
	BulkRunLocal(ctx context.Context, peer string, req BulkRunRequest) (BulkRunResponse, error)
}

// Config holds the dispatcher's tunables, sourced from fcrconfig.
type Config struct {
	LBThreshold        int
	RemoteCallOverhead time.Duration
	MaxInFlightDevices int

	// ExecutorThreads bounds how many blocking dial/session-open
	// operations may run at once, independent of how many devices or
	// sessions are in flight overall; device resolution runs before a
	// token is taken and is not bounded by it. Sourced from
	// fcrconfig.MaxDefaultExecutorThreads.
	ExecutorThreads int
}

// Dispatcher wires together vendor profiles, device resolution, the
// session registry, and the transport dialer to implement the RPC
// surface.
type Dispatcher struct {
	profiles  *profile.Registry
	inventory InventorySource
	sessions  *registry.Registry
	counters  *counters.Registry
	dial      session.Dialer
	peers     []string
	caller    PeerCaller
	cfg       Config

	inFlight *semaphore.Weighted

	// executor is a bounded worker pool, modeled as a buffered channel
	// of tokens, gating concurrent blocking dial/session-open
	// operations to ExecutorThreads regardless of how many devices or
	// sessions are in flight overall.
	executor chan struct{}
}

// New builds a Dispatcher. caller and peers may be nil/empty for a
// single-instance deployment that never needs to chunk bulk_run out to
// other processes.
func New(profiles *profile.Registry, inv InventorySource, sessions *registry.Registry, ctr *counters.Registry, dial session.Dialer, peers []string, caller PeerCaller, cfg Config) *Dispatcher {
	if cfg.LBThreshold <= 0 {
		cfg.LBThreshold = 100
	}
	if cfg.MaxInFlightDevices <= 0 {
		cfg.MaxInFlightDevices = 1000
	}
	if cfg.ExecutorThreads <= 0 {
		cfg.ExecutorThreads = 4
	}
	tokens := make(chan struct{}, cfg.ExecutorThreads)
	for i := 0; i < cfg.ExecutorThreads; i++ {
		tokens <- struct{}{}
	}
	return &Dispatcher{
		profiles:  profiles,
		inventory: inv,
		sessions:  sessions,
		counters:  ctr,
		dial:      dial,
		peers:     peers,
		caller:    caller,
		cfg:       cfg,
		inFlight:  semaphore.NewWeighted(int64(cfg.MaxInFlightDevices)),
		executor:  tokens,
	}
}

// acquireExecutor blocks until a worker-pool token is available or ctx
// is done.
func (d *Dispatcher) acquireExecutor(ctx context.Context) error {
	select {
	case <-d.executor:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) releaseExecutor() {
	d.executor <- struct{}{}
}

// resolve runs device.Resolve against the dispatcher's current vendor
// registry and inventory snapshot.
func (d *Dispatcher) resolve(rec *device.Record) (*device.Target, error) {
	return device.Resolve(rec, d.inventory.Current(), d.profiles)
}

// RealDialer opens a real SSH transport for a resolved Target, selecting
// CLI vs NETCONF by session kind. It's the Dialer passed to New in
// production; tests use transport.Fake-backed dialers instead.
func RealDialer(ctx context.Context, addr, username, password string, target *device.Target) (transport.Transport, error) {
	if target.SessionKind == profile.SessionNetconf {
		subsystem := target.SessionData
		if subsystem == "" {
			subsystem = "netconf"
		}
		return transport.DialNetconf(ctx, addr, username, password, subsystem, "")
	}
	return transport.DialCLI(ctx, addr, username, password)
}

// Run implements the single-shot `run` operation: resolve, open an
// anonymous session, issue one command, close.
func (d *Dispatcher) Run(ctx context.Context, rec *device.Record, command string, timeout, openTimeout time.Duration, uuid string) (*session.CommandResult, error) {
	target, err := d.resolve(rec)
	if err != nil {
		d.counters.Inc(counters.ErrorCounterName(fcrerr.CodeOf(err)), 1)
		return nil, err
	}

	openCtx := ctx
	var cancel context.CancelFunc
	if openTimeout > 0 {
		openCtx, cancel = context.WithTimeout(ctx, openTimeout)
		defer cancel()
	}

	if err := d.acquireExecutor(openCtx); err != nil {
		d.counters.Inc(counters.ErrorCounterName(fcrerr.CodeOf(err)), 1)
		return nil, err
	}
	s, err := session.Open(openCtx, d.dial, target, rec.Hostname, uuid, openTimeout, false)
	d.releaseExecutor()
	if err != nil {
		d.counters.Inc(counters.ErrorCounterName(fcrerr.CodeOf(err)), 1)
		return nil, err
	}
	defer s.Close()

	d.counters.Inc(counters.VendorCounterName(rec.Vendor), 1)
	d.counters.Inc(counters.CommandsRun, 1)

	result, err := s.Run(ctx, command, timeout, nil)
	if result != nil {
		result.UUID = uuid
	}
	if err != nil {
		d.counters.Inc(counters.ErrorCounterName(fcrerr.CodeOf(err)), 1)
	}
	return result, err
}

// RunRaw is Run with an explicit prompt regex and no vendor setup
// sequence, for callers that already know exactly what they're talking
// to.
func (d *Dispatcher) RunRaw(ctx context.Context, rec *device.Record, command string, timeout, openTimeout time.Duration, promptRegex *regexp.Regexp, uuid string) (*session.CommandResult, error) {
	target, err := d.resolve(rec)
	if err != nil {
		return nil, err
	}

	openCtx := ctx
	var cancel context.CancelFunc
	if openTimeout > 0 {
		openCtx, cancel = context.WithTimeout(ctx, openTimeout)
		defer cancel()
	}

	if err := d.acquireExecutor(openCtx); err != nil {
		return nil, err
	}
	s, err := session.Open(openCtx, d.dial, target, rec.Hostname, uuid, openTimeout, true)
	d.releaseExecutor()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	result, err := s.Run(ctx, command, timeout, promptRegex)
	if result != nil {
		result.UUID = uuid
	}
	return result, err
}

// BulkRunRequest is the input to bulk_run / bulk_run_local: per-device
// command lists plus the device records needed to resolve them, under
// one shared timeout and open_timeout. Records travels alongside
// Commands so a forwarded bulk_run_local call carries the caller's
// device records; a record without an explicit IPAddress is still
// resolved against the receiving instance's own inventory.
type BulkRunRequest struct {
	Commands    map[string][]string
	Records     map[string]*device.Record
	Timeout     time.Duration
	OpenTimeout time.Duration
	UUID        string
}

// BulkRunResponse maps every requested hostname to its per-command
// result list; every hostname present in the request is guaranteed to
// be present here, success or failure.
type BulkRunResponse map[string][]session.CommandResult

// BulkRun is the top-level bulk_run operation: when the device count
// exceeds LBThreshold and peers are configured, it chunks the work out
// to peer instances via bulk_run_local; otherwise it runs locally.
func (d *Dispatcher) BulkRun(ctx context.Context, req BulkRunRequest) (BulkRunResponse, error) {
	if len(req.Commands) <= d.cfg.LBThreshold || len(d.peers) == 0 || d.caller == nil {
		return d.BulkRunLocal(ctx, req)
	}

	hostnames := make([]string, 0, len(req.Commands))
	for h := range req.Commands {
		hostnames = append(hostnames, h)
	}

	forwardTimeout := req.Timeout - d.cfg.RemoteCallOverhead
	if forwardTimeout < 0 {
		forwardTimeout = 0
	}

	result := make(BulkRunResponse, len(req.Commands))
	var mu sync.Mutex
	var wg sync.WaitGroup

	peerIdx := 0
	for start := 0; start < len(hostnames); start += d.cfg.LBThreshold {
		end := start + d.cfg.LBThreshold
		if end > len(hostnames) {
			end = len(hostnames)
		}
		chunkHosts := hostnames[start:end]
		chunkCmds := make(map[string][]string, len(chunkHosts))
		chunkRecs := make(map[string]*device.Record, len(chunkHosts))
		for _, h := range chunkHosts {
			chunkCmds[h] = req.Commands[h]
			chunkRecs[h] = req.Records[h]
		}

		peer := d.peers[peerIdx%len(d.peers)]
		peerIdx++

		chunkReq := BulkRunRequest{Commands: chunkCmds, Records: chunkRecs, Timeout: forwardTimeout, OpenTimeout: req.OpenTimeout, UUID: req.UUID}

		wg.Add(1)
		go func(peer string, chunkReq BulkRunRequest, chunkHosts []string) {
			defer wg.Done()
			resp, err := d.caller.BulkRunLocal(ctx, peer, chunkReq)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for _, h := range chunkHosts {
					result[h] = []session.CommandResult{{Status: err.Error()}}
				}
				return
			}
			for h, results := range resp {
				result[h] = results
			}
		}(peer, chunkReq, chunkHosts)
	}

	wg.Wait()
	return result, nil
}

// BulkRunLocal runs every device in req against this instance only.
// Each device gets its own goroutine and a transient session spanning
// all of that device's commands; a failing device never affects its
// peers. When the number of concurrently active device units would
// exceed MaxInFlightDevices, the call is refused wholesale with
// INSTANCE_OVERLOADED rather than partially admitted.
func (d *Dispatcher) BulkRunLocal(ctx context.Context, req BulkRunRequest) (BulkRunResponse, error) {
	n := int64(len(req.Commands))
	if !d.inFlight.TryAcquire(n) {
		d.counters.Inc(counters.ErrorCounterName(fcrerr.InstanceOverloaded), 1)
		return nil, fcrerr.New(fcrerr.InstanceOverloaded, "too many devices in flight")
	}
	defer d.inFlight.Release(n)

	result := make(BulkRunResponse, len(req.Commands))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for hostname, commands := range req.Commands {
		wg.Add(1)
		go func(hostname string, commands []string) {
			defer wg.Done()
			results := d.runDeviceSequence(ctx, hostname, commands, req)
			mu.Lock()
			result[hostname] = results
			mu.Unlock()
		}(hostname, commands)
	}

	wg.Wait()
	d.counters.Inc(counters.BulkDevices, n)
	return result, nil
}

// runDeviceSequence opens one transient session for hostname and runs
// every command against it in order, aborting on the first failure; the
// failure is reported for that command and every command never
// attempted is simply absent from the result list.
func (d *Dispatcher) runDeviceSequence(ctx context.Context, hostname string, commands []string, req BulkRunRequest) []session.CommandResult {
	rec, ok := req.Records[hostname]
	if !ok {
		return []session.CommandResult{{
			Command: "",
			Status:  fcrerr.Newf(fcrerr.Lookup, "no device record for %q", hostname).Error(),
		}}
	}

	target, err := d.resolve(rec)
	if err != nil {
		return []session.CommandResult{{Status: err.Error()}}
	}

	openCtx := ctx
	var cancel context.CancelFunc
	if req.OpenTimeout > 0 {
		openCtx, cancel = context.WithTimeout(ctx, req.OpenTimeout)
		defer cancel()
	}

	if err := d.acquireExecutor(openCtx); err != nil {
		return []session.CommandResult{{Status: err.Error()}}
	}
	s, err := session.Open(openCtx, d.dial, target, hostname, req.UUID, req.OpenTimeout, false)
	d.releaseExecutor()
	if err != nil {
		return []session.CommandResult{{Status: err.Error()}}
	}
	defer s.Close()

	results := make([]session.CommandResult, 0, len(commands))
	for _, cmd := range commands {
		r, err := s.Run(ctx, cmd, req.Timeout, nil)
		if r != nil {
			r.UUID = req.UUID
			results = append(results, *r)
		}
		if err != nil {
			break
		}
	}
	return results
}

// OpenSession implements open_session: resolve, open a persistent
// session, and register it under owner so only that client can drive it.
func (d *Dispatcher) OpenSession(ctx context.Context, rec *device.Record, openTimeout, idleTimeout time.Duration, owner session.Owner, uuid string) (int64, error) {
	return d.openSession(ctx, rec, openTimeout, idleTimeout, owner, uuid, false)
}

// OpenRawSession is OpenSession without the vendor setup sequence.
func (d *Dispatcher) OpenRawSession(ctx context.Context, rec *device.Record, openTimeout, idleTimeout time.Duration, owner session.Owner, uuid string) (int64, error) {
	return d.openSession(ctx, rec, openTimeout, idleTimeout, owner, uuid, true)
}

func (d *Dispatcher) openSession(ctx context.Context, rec *device.Record, openTimeout, idleTimeout time.Duration, owner session.Owner, uuid string, raw bool) (int64, error) {
	target, err := d.resolve(rec)
	if err != nil {
		return 0, err
	}

	openCtx := ctx
	var cancel context.CancelFunc
	if openTimeout > 0 {
		openCtx, cancel = context.WithTimeout(ctx, openTimeout)
		defer cancel()
	}

	if err := d.acquireExecutor(openCtx); err != nil {
		return 0, err
	}
	s, err := session.Open(openCtx, d.dial, target, rec.Hostname, uuid, idleTimeout, raw)
	d.releaseExecutor()
	if err != nil {
		return 0, err
	}

	id, err := d.sessions.Register(s, owner)
	if err != nil {
		s.Close()
		return 0, err
	}
	d.counters.Inc(counters.SessionsOpen, 1)
	d.counters.Inc(counters.SessionsTotal, 1)
	return id, nil
}

// RunSession implements run_session: look up the session by (id, owner)
// and run one command on it.
func (d *Dispatcher) RunSession(ctx context.Context, id int64, owner session.Owner, command string, timeout time.Duration) (*session.CommandResult, error) {
	return d.runSession(ctx, id, owner, command, timeout, nil)
}

// RunRawSession is run_session with an explicit prompt regex.
func (d *Dispatcher) RunRawSession(ctx context.Context, id int64, owner session.Owner, command string, timeout time.Duration, promptRegex *regexp.Regexp) (*session.CommandResult, error) {
	return d.runSession(ctx, id, owner, command, timeout, promptRegex)
}

func (d *Dispatcher) runSession(ctx context.Context, id int64, owner session.Owner, command string, timeout time.Duration, promptRegex *regexp.Regexp) (*session.CommandResult, error) {
	s, err := d.sessions.Lookup(id, owner)
	if err != nil {
		return nil, err
	}

	result, err := s.Run(ctx, command, timeout, promptRegex)
	if err != nil {
		d.sessions.Evict(id)
		d.counters.Inc(counters.SessionsOpen, -1)
		return result, err
	}
	return result, nil
}

// CloseSession implements close_session: idempotent by construction,
// since Evict tolerates being called on an id that's already gone, but
// the second call must still fail for the caller as SessionException
// per the idempotence invariant — enforced by Lookup finding nothing
// once the first close has run.
func (d *Dispatcher) CloseSession(ctx context.Context, id int64, owner session.Owner) error {
	if _, err := d.sessions.Lookup(id, owner); err != nil {
		return err
	}
	d.sessions.Evict(id)
	d.counters.Inc(counters.SessionsOpen, -1)
	fcrlog.WithSession(id).Info("session closed")
	return nil
}

// CloseRawSession is an alias; raw sessions are evicted the same way as
// regular ones.
func (d *Dispatcher) CloseRawSession(ctx context.Context, id int64, owner session.Owner) error {
	return d.CloseSession(ctx, id, owner)
}
