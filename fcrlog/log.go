// Package fcrlog provides the process-wide structured logger. It mirrors
// the logrus-based logging convention used elsewhere in the fleet tooling:
// one global entry point, field helpers for the recurring dimensions
// (session, device, vendor), and a level knob driven by configuration.
package fcrlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the package-level logger. Every FCR component logs through it
// (or through one of the With* helpers below) rather than holding its own.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
}

// SetLevel parses and applies a log level name (e.g. "debug", "info").
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetJSONFormat switches the logger to structured JSON output, useful when
// FCR runs under a log-collection pipeline rather than a terminal.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
}

// WithSession returns a logger entry scoped to a session id.
func WithSession(id int64) *logrus.Entry {
	return Logger.WithField("session_id", id)
}

// WithDevice returns a logger entry scoped to a device hostname.
func WithDevice(hostname string) *logrus.Entry {
	return Logger.WithField("device", hostname)
}

// WithVendor returns a logger entry scoped to a vendor name.
func WithVendor(name string) *logrus.Entry {
	return Logger.WithField("vendor", name)
}

// WithUUID returns a logger entry scoped to a request correlation id.
func WithUUID(uuid string) *logrus.Entry {
	return Logger.WithField("uuid", uuid)
}

// WithFields is a passthrough for call sites that need more than one
// dimension at once.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}
