// Package device holds the Device Resolver: the policy that turns a
// device record plus an inventory snapshot into a concrete connection
// target (address, credentials, vendor profile, session kind).
package device

import "github.com/nanoncore/fcr/profile"

// Record is one device's configuration as known to FCR, independent of
// its current network reachability (that lives in the inventory
// snapshot).
type Record struct {
	Hostname string
	Username string
	Password string

	// Vendor names the profile.Registry entry to resolve against.
	Vendor string

	// PreferredIPs is the inventory-annotated ordered address list for
	// this device (loopbacks or whatever the inventory source supplies).
	PreferredIPs []string

	// ManagementIPs is the subset of PreferredIPs known to be management
	// addresses; used when MgmtIP restricts resolution to them.
	ManagementIPs []string

	// IPAddress, when set, is used verbatim and skips inventory lookup.
	IPAddress string

	// MgmtIP restricts inventory-sourced addresses to the management
	// address family.
	MgmtIP bool

	// FailoverToBackupIPs, when true, returns every inventory address in
	// order instead of only the first; Session tries each in turn on
	// connection failure.
	FailoverToBackupIPs bool

	// CommandPrompts overrides the active prompt for specific commands
	// that don't return to the normal prompt (e.g. "reboot").
	CommandPrompts map[string]string

	// SessionKindOverride replaces the vendor profile's default session
	// kind when set.
	SessionKindOverride profile.SessionKind

	// SessionData names the SSH subsystem dispatcher.RealDialer requests
	// when this device's session kind is ssh-netconf ("netconf" when
	// empty). RealDialer never runs it as an exec-command string.
	SessionData string

	// PreSetupCommands run before the vendor profile's own setup
	// commands (e.g. an enable sequence specific to this device).
	PreSetupCommands []string

	// ClearCommandOverride, when non-nil, replaces the vendor profile's
	// clear command for this device. An empty (non-nil, zero-length)
	// slice means "send nothing".
	ClearCommandOverride []byte
}

// Snapshot is an immutable view of the fleet, keyed by hostname. A
// Snapshot is never mutated after it is built; inventory.Source produces
// a new one on every refresh and swaps it in atomically. It lives in
// this package, rather than inventory, so the resolver can depend on it
// without creating an import cycle back to inventory.
type Snapshot map[string]*Record

// Lookup returns the record for hostname, if known.
func (s Snapshot) Lookup(hostname string) (*Record, bool) {
	r, ok := s[hostname]
	return r, ok
}

// MgmtAddresses returns the management-restricted address list, falling
// back to the full preferred list when no addresses are specifically
// annotated as management.
func (r *Record) MgmtAddresses() []string {
	if len(r.ManagementIPs) > 0 {
		return r.ManagementIPs
	}
	return r.PreferredIPs
}
