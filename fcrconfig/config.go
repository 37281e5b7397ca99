// Package fcrconfig loads the knobs the process harness hands to the FCR
// core: a YAML file for the durable settings, overridable by flags for the
// ones an operator commonly wants to tweak per-invocation.
package fcrconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every CLI/configuration knob named in the specification's
// external interfaces section.
type Config struct {
	Port                      int           `yaml:"port"`
	LBThreshold               int           `yaml:"lb_threshold"`
	RemoteCallOverhead        time.Duration `yaml:"remote_call_overhead"`
	ExitMaxWait               time.Duration `yaml:"exit_max_wait"`
	DeviceDBUpdateInterval    time.Duration `yaml:"device_db_update_interval"`
	DeviceNameFilter          string        `yaml:"device_name_filter"`
	MaxDefaultExecutorThreads int           `yaml:"max_default_executor_threads"`
	LogLevel                  string        `yaml:"log_level"`
	VendorConfigPath          string        `yaml:"vendor_config_path"`
	Peers                     []string      `yaml:"peers"`

	// AsyncioDebug is accepted for parity with the source harness's flag
	// surface. FCR's Go runtime has no asyncio event loop to put into debug
	// mode, so the value is parsed and ignored rather than rejected.
	AsyncioDebug bool `yaml:"asyncio_debug"`
}

// Default returns the configuration used when no file and no flags
// override a setting.
func Default() *Config {
	return &Config{
		Port:                      4090,
		LBThreshold:               100,
		RemoteCallOverhead:        2 * time.Second,
		ExitMaxWait:               30 * time.Second,
		DeviceDBUpdateInterval:    5 * time.Minute,
		MaxDefaultExecutorThreads: 4,
		LogLevel:                 "info",
	}
}

// Load reads a YAML document at path and overlays it on top of Default().
// An empty path returns the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fcrconfig: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("fcrconfig: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers the CLI knobs on fs, writing overrides into cfg when
// the command line parses. Call after Load so flags win over the file.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port the RPC server listens on")
	fs.IntVar(&cfg.LBThreshold, "lb_threshold", cfg.LBThreshold, "max devices handled locally before sharding a bulk_run to peers")
	fs.DurationVar(&cfg.RemoteCallOverhead, "remote_call_overhead", cfg.RemoteCallOverhead, "deadline subtracted before forwarding a bulk_run_local to a peer")
	fs.DurationVar(&cfg.ExitMaxWait, "exit_max_wait", cfg.ExitMaxWait, "time to let in-flight commands finish during shutdown")
	fs.DurationVar(&cfg.DeviceDBUpdateInterval, "device_db_update_interval", cfg.DeviceDBUpdateInterval, "inventory refresh interval")
	fs.StringVar(&cfg.DeviceNameFilter, "device_name_filter", cfg.DeviceNameFilter, "inventory device name filter: an exact name, or a prefix followed by '*'")
	fs.IntVar(&cfg.MaxDefaultExecutorThreads, "max_default_executor_threads", cfg.MaxDefaultExecutorThreads, "worker pool size for blocking dial/session-open calls")
	fs.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.VendorConfigPath, "vendor_config_path", cfg.VendorConfigPath, "path to the vendor profile JSON file")
	fs.BoolVar(&cfg.AsyncioDebug, "asyncio_debug", cfg.AsyncioDebug, "accepted for compatibility; has no effect")
}
