package device

import (
	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/profile"
)

// Target is the resolved connection plan for one device: everything
// Session needs to open a transport and start a vendor session.
type Target struct {
	Addresses []string
	Username  string
	Password  string

	Profile *profile.Profile

	SessionKind profile.SessionKind
	SessionData string

	CommandPrompts   map[string]string
	PreSetupCommands []string
	ClearCommand     []byte
}

// Resolve implements the four-step resolution policy: explicit IP wins
// over inventory, inventory supplies the address list (restricted to
// management addresses on request), failover_to_backup_ips controls
// whether the full list or just the first address is returned, and the
// vendor on the record must resolve in reg or the call fails with
// UNSUPPORTED_DEVICE.
func Resolve(rec *Record, inv Snapshot, reg *profile.Registry) (*Target, error) {
	if rec.Vendor == "" {
		return nil, fcrerr.Newf(fcrerr.UnsupportedDevice, "device %q has no vendor assigned", rec.Hostname)
	}
	prof, ok := reg.Get(rec.Vendor)
	if !ok {
		return nil, fcrerr.Newf(fcrerr.UnsupportedDevice, "unknown vendor %q for device %q", rec.Vendor, rec.Hostname)
	}

	addresses, err := resolveAddresses(rec, inv)
	if err != nil {
		return nil, err
	}

	kind := prof.SessionKind
	if rec.SessionKindOverride != "" {
		kind = rec.SessionKindOverride
	}

	clear := prof.ClearCommand
	if rec.ClearCommandOverride != nil {
		clear = rec.ClearCommandOverride
	}

	return &Target{
		Addresses:        addresses,
		Username:         rec.Username,
		Password:         rec.Password,
		Profile:          prof,
		SessionKind:      kind,
		SessionData:      rec.SessionData,
		CommandPrompts:   rec.CommandPrompts,
		PreSetupCommands: rec.PreSetupCommands,
		ClearCommand:     clear,
	}, nil
}

func resolveAddresses(rec *Record, inv Snapshot) ([]string, error) {
	if rec.IPAddress != "" {
		return []string{rec.IPAddress}, nil
	}

	addrs := preferredAddresses(rec, inv)
	if len(addrs) == 0 {
		return nil, fcrerr.Newf(fcrerr.Lookup, "no reachable address for device %q", rec.Hostname)
	}

	if !rec.FailoverToBackupIPs {
		return addrs[:1], nil
	}
	return addrs, nil
}

// preferredAddresses consults the inventory record for hostname, if one
// exists, restricting to management addresses when MgmtIP is set;
// otherwise it falls back to whatever the resolved device record itself
// carries (loopback or any other inventory-annotated address list).
func preferredAddresses(rec *Record, inv Snapshot) []string {
	invRec, ok := inv.Lookup(rec.Hostname)
	if !ok || invRec == nil {
		return nil
	}
	if rec.MgmtIP {
		return invRec.MgmtAddresses()
	}
	return invRec.PreferredIPs
}
