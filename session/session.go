// Package session implements the per-device state machine: it owns one
// transport.Transport and one promptmatch.Detector and serializes every
// command issued against them.
package session

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nanoncore/fcr/device"
	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/fcrlog"
	"github.com/nanoncore/fcr/profile"
	"github.com/nanoncore/fcr/promptmatch"
	"github.com/nanoncore/fcr/transport"
)

// State is one point in the CONNECTING -> SETUP -> READY -> RUNNING ->
// {READY|FAILED} -> CLOSED machine.
type State int

const (
	Connecting State = iota
	Setup
	Ready
	Running
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Setup:
		return "SETUP"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Owner identifies the client connection a persistent session is sticky
// to; open_session/run_session/close_session only succeed when the
// caller's owner matches.
type Owner struct {
	ClientIP   string
	ClientPort int
}

// Dialer opens a transport for one resolved address. It is a seam so
// tests can substitute transport.Fake without touching real SSH.
type Dialer func(ctx context.Context, addr, username, password string, target *device.Target) (transport.Transport, error)

// Session is one live device connection plus its state.
type Session struct {
	ID         int64
	DeviceName string
	Hostname   string
	UUID       string
	Owner      Owner

	IdleTimeout time.Duration
	OpenTimeout time.Duration

	LastActivity time.Time

	mu    sync.Mutex
	state State

	raw     bool
	target  *device.Target
	tp      transport.Transport
	matcher promptmatch.Detector

	closeOnce sync.Once
}

// Open resolves nothing itself — the caller (Dispatcher) has already run
// device.Resolve — and instead drives connection setup for an already
// resolved Target: dial (trying backup addresses in order when the
// target carries more than one), then, unless raw is true, run
// pre-setup and vendor setup commands to reach READY.
func Open(ctx context.Context, dial Dialer, target *device.Target, hostname, uuid string, idleTimeout time.Duration, raw bool) (*Session, error) {
	openCtx := ctx
	s := &Session{
		Hostname:     hostname,
		UUID:         uuid,
		IdleTimeout:  idleTimeout,
		LastActivity: time.Now(),
		state:        Connecting,
		raw:          raw,
		target:       target,
	}

	var lastErr error
	for _, addr := range target.Addresses {
		tp, err := dial(openCtx, addr, target.Username, target.Password, target)
		if err != nil {
			lastErr = err
			continue
		}
		s.tp = tp
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}
	if s.tp == nil {
		return nil, fcrerr.New(fcrerr.ConnectionError, "no addresses available")
	}

	if target.SessionKind == profile.SessionNetconf {
		s.matcher = promptmatch.NewNetconfFramer()
	} else {
		s.matcher = promptmatch.New(target.Profile.AllPrompts())
	}

	s.state = Setup
	if !raw {
		if err := s.runSetup(openCtx, target); err != nil {
			s.tp.Close()
			s.state = Failed
			return nil, err
		}
	}
	s.state = Ready

	fcrlog.WithDevice(hostname).WithField("uuid", uuid).Info("session ready")
	return s, nil
}

func (s *Session) runSetup(ctx context.Context, target *device.Target) error {
	commands := append(append([]string{}, target.PreSetupCommands...), target.Profile.SetupCommands...)
	for _, cmd := range commands {
		if _, err := s.sendAwait(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// CommandResult is the outcome of one Run call.
type CommandResult struct {
	Output       string
	Status       string
	Command      string
	Capabilities string
	UUID         string
}

const statusSuccess = "success"

// Run executes command against a READY session, returning to READY on
// success or Failed on error. Configlets (multi-line commands) are split
// on LF and sent as independent sub-commands; the first failing
// sub-command aborts the remainder and the overall result carries its
// failure.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration, promptOverride *regexp.Regexp) (*CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Ready {
		return nil, fcrerr.Newf(fcrerr.Runtime, "session %d not ready (state=%s)", s.ID, s.state)
	}
	s.state = Running

	if override := s.activePrompt(command, promptOverride); override != nil {
		if m, ok := s.matcher.(*promptmatch.Matcher); ok {
			m.SetPrompts([]*regexp.Regexp{override})
			defer m.SetPrompts(s.target.Profile.AllPrompts())
		}
	}

	lines := strings.Split(command, "\n")
	var outputs []string
	var capabilities string
	var failure error

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, line := range lines {
		out, err := s.sendAwait(runCtx, line)
		if err != nil {
			failure = err
			break
		}
		outputs = append(outputs, out)
	}

	if netTp, ok := s.tp.(transport.NetconfTransport); ok {
		capabilities = netTp.Capabilities()
	}

	result := &CommandResult{
		Command:      command,
		Output:       strings.Join(outputs, "\n"),
		Capabilities: capabilities,
	}

	s.LastActivity = time.Now()

	if failure != nil {
		s.state = Failed
		result.Status = failure.Error()
		return result, failure
	}

	s.state = Ready
	result.Status = statusSuccess
	return result, nil
}

// activePrompt resolves the override precedence: explicit argument >
// per-command override > vendor prompt set (already the matcher's
// default, so this only needs to recognize the first two cases).
func (s *Session) activePrompt(command string, explicit *regexp.Regexp) *regexp.Regexp {
	if explicit != nil {
		return explicit
	}
	if pattern, ok := s.target.CommandPrompts[command]; ok {
		if re, err := regexp.Compile(pattern); err == nil {
			return re
		}
	}
	return nil
}

// sendAwait sends the clear command (if any) followed by line+LF, then
// reads from the transport until the matcher reports a prompt or the
// context expires.
func (s *Session) sendAwait(ctx context.Context, line string) (string, error) {
	clear := s.target.ClearCommand
	if len(clear) > 0 {
		if err := s.tp.Send(ctx, clear); err != nil {
			return "", fcrerr.Wrap(fcrerr.DeviceError, err)
		}
	}

	if err := s.tp.Send(ctx, []byte(line+"\n")); err != nil {
		return "", fcrerr.Wrap(fcrerr.DeviceError, err)
	}

	for {
		chunk, err := s.tp.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", fcrerr.New(fcrerr.CommandExecutionTimeout, "timed out waiting for prompt")
			}
			return "", fcrerr.Wrap(fcrerr.StreamReader, err)
		}
		out, _, ok := s.matcher.Feed(chunk)
		if ok {
			return stripEcho(string(out), line), nil
		}
	}
}

// stripEcho removes the command echo if the device sent it back as the
// first line of output; the prompt matcher leaves the echo in the
// output it returns.
func stripEcho(output, command string) string {
	lines := strings.SplitN(output, "\n", 2)
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == strings.TrimSpace(command) {
		if len(lines) == 2 {
			return lines[1]
		}
		return ""
	}
	return output
}

// Close sends a vendor disconnect command (best effort) and closes the
// transport. It is idempotent: the actual close work runs exactly once,
// and a second call observes Closed immediately.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.tp != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.tp.Send(ctx, []byte("exit\n"))
			cancel()
			err = s.tp.Close()
		}
		s.state = Closed
	})
	return err
}

// State returns the session's current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Idle reports whether the session has been outside RUNNING for longer
// than IdleTimeout.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return false
	}
	return time.Since(s.LastActivity) > s.IdleTimeout
}
