package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/nanoncore/fcr/counters"
	"github.com/nanoncore/fcr/device"
	"github.com/nanoncore/fcr/dispatcher"
	"github.com/nanoncore/fcr/fcrconfig"
	"github.com/nanoncore/fcr/fcrlog"
	"github.com/nanoncore/fcr/inventory"
	"github.com/nanoncore/fcr/profile"
	"github.com/nanoncore/fcr/registry"
	"github.com/nanoncore/fcr/rpc"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "fcrd",
		Short:         "Fleet Command Runner daemon",
		Long:          "fcrd runs interactive CLI/NETCONF commands against a fleet of network devices over SSH, driven over an RPC surface.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	cfg := fcrconfig.Default()
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	fcrconfig.BindFlags(rootCmd.Flags(), cfg)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := fcrconfig.Load(configPath)
	if err != nil {
		return err
	}
	// Re-apply every flag set on the command line on top of the file
	// values, so flags win over the file and the file over the defaults.
	overlay := pflag.NewFlagSet("fcrd", pflag.ContinueOnError)
	fcrconfig.BindFlags(overlay, cfg)
	var flagErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if flagErr == nil && overlay.Lookup(f.Name) != nil {
			flagErr = overlay.Set(f.Name, f.Value.String())
		}
	})
	if flagErr != nil {
		return flagErr
	}

	if err := fcrlog.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("fcrd: invalid log_level %q: %w", cfg.LogLevel, err)
	}

	profiles, err := profile.Load(cfg.VendorConfigPath)
	if err != nil {
		return fmt.Errorf("fcrd: loading vendor profiles: %w", err)
	}
	fcrlog.Logger.WithField("vendors", profiles.Names()).Info("vendor profiles loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := inventory.StaticFetcher{Snapshot: device.Snapshot{}}
	nameFilter := nameFilterFunc(cfg.DeviceNameFilter)
	invSource, err := inventory.NewSource(ctx, fetcher, cfg.DeviceDBUpdateInterval, nameFilter)
	if err != nil {
		return fmt.Errorf("fcrd: starting inventory source: %w", err)
	}
	defer invSource.Stop()

	ctr := &counters.Registry{}
	sessions := registry.New(time.Minute, ctr)

	var caller dispatcher.PeerCaller
	var peerClient *rpc.PeerClient
	if len(cfg.Peers) > 0 {
		peerClient = rpc.NewPeerClient()
		caller = peerClient
	}

	d := dispatcher.New(
		profiles,
		invSource,
		sessions,
		ctr,
		dispatcher.RealDialer,
		cfg.Peers,
		caller,
		dispatcher.Config{
			LBThreshold:        cfg.LBThreshold,
			RemoteCallOverhead: cfg.RemoteCallOverhead,
			ExecutorThreads:    cfg.MaxDefaultExecutorThreads,
		},
	)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("fcrd: listening on port %d: %w", cfg.Port, err)
	}

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(rpc.Codec))
	rpc.Register(grpcServer, d)

	serveErr := make(chan error, 1)
	go func() {
		fcrlog.Logger.WithField("port", cfg.Port).Info("fcrd listening")
		serveErr <- grpcServer.Serve(lis)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErr:
		return err
	case sig := <-sigCh:
		fcrlog.Logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ExitMaxWait)
	defer shutdownCancel()
	sessions.Shutdown(shutdownCtx, cfg.ExitMaxWait)

	if peerClient != nil {
		_ = peerClient.Close()
	}

	grpcServer.GracefulStop()
	return nil
}

// nameFilterFunc turns the device_name_filter CLI knob into the predicate
// inventory.NewSource expects; an empty filter admits every device.
func nameFilterFunc(filter string) func(string) bool {
	if filter == "" {
		return nil
	}
	return func(name string) bool {
		return globMatch(filter, name)
	}
}

// globMatch supports the one wildcard inventory filtering needs: a
// trailing "*" matches any suffix, otherwise the filter must match the
// device name exactly.
func globMatch(pattern, name string) bool {
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(name) >= len(prefix) && name[:len(prefix)] == prefix
	}
	return pattern == name
}
