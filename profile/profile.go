// Package profile implements the Vendor Registry: immutable,
// precompiled-at-load-time descriptions of how to drive one device
// family's interactive session (prompt regexes, setup commands, session
// kind).
package profile

import (
	"regexp"
	"time"
)

// SessionKind is the transport variant a vendor profile drives.
type SessionKind string

const (
	SessionCLI     SessionKind = "ssh-cli"
	SessionNetconf SessionKind = "ssh-netconf"
)

// Profile is one vendor's immutable session description. Once returned
// from Registry.Get it is never mutated; callers share the same pointer.
type Profile struct {
	Name string

	SessionKind SessionKind

	// PromptRegexes are tried in order. ssh-cli profiles always carry at
	// least one (compile falls back to defaultPromptPattern); ssh-netconf
	// profiles may carry none. Anchoring is not checked at load time;
	// promptmatch.Matcher only accepts a match that reaches the end of
	// the buffer's last line.
	PromptRegexes []*regexp.Regexp

	// ShellPromptRegexes are added to the active set when a session has
	// dropped to a vendor's underlying shell (e.g. after a "start shell"
	// command on some platforms).
	ShellPromptRegexes []*regexp.Regexp

	// SetupCommands run in order right after login, each awaited to a
	// prompt match before the next is sent.
	SetupCommands []string

	// ClearCommand is sent before every command to flush stale input.
	// Defaults to a single Ctrl-U (0x15) if left empty by raw JSON input;
	// compile fills that in.
	ClearCommand []byte

	// DefaultTimeout applies to Run calls that don't specify their own.
	DefaultTimeout time.Duration
}

// defaultClearCommand is Ctrl-U / NAK, the spec's default clear-command.
var defaultClearCommand = []byte{0x15}

// AllPrompts returns the union of vendor and shell prompts; callers append
// any per-command override on top of this when building a Session's active
// regex set.
func (p *Profile) AllPrompts() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(p.PromptRegexes)+len(p.ShellPromptRegexes))
	out = append(out, p.PromptRegexes...)
	out = append(out, p.ShellPromptRegexes...)
	return out
}
