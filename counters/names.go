package counters

import "github.com/nanoncore/fcr/fcrerr"

// Well-known counter names published by the Session Registry and
// Dispatcher.
const (
	SessionsOpen    = "fcr.sessions.open"
	SessionsTotal   = "fcr.sessions.total"
	SessionsEvicted = "fcr.sessions.evicted"
	CommandsRun     = "fcr.commands.run"
	BulkDevices     = "fcr.bulk.devices"
)

// ErrorCounterName builds the per-FcrErrorCode counter name used for error
// accounting, e.g. "fcr.errors.DEVICE_ERROR".
func ErrorCounterName(code fcrerr.Code) string {
	return "fcr.errors." + code.String()
}

// VendorCounterName builds the per-vendor activity counter name, e.g.
// "fcr.vendor.arista.commands".
func VendorCounterName(vendor string) string {
	return "fcr.vendor." + vendor + ".commands"
}
