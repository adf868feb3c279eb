package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/subcommands"

	"github.com/flowos/flowos/pkg/diagnostics"
	"github.com/flowos/flowos/pkg/flowos"
)

// serveCmd runs flowosctl as a long-lived process that installs the LibOS
// singleton and periodically logs a diagnostics snapshot, notifying
// systemd (if supervised) once initialization completes. It exists so the
// library can be exercised end-to-end without a C host program.
type serveCmd struct {
	libos      string
	configPath string
	interval   time.Duration
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "install the LIBOS singleton and idle, reporting diagnostics" }
func (*serveCmd) Usage() string {
	return "serve -libos <name> -config <path> [-interval 5s]\n"
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.libos, "libos", "", "backend name (overrides $LIBOS)")
	f.StringVar(&c.configPath, "config", "", "config file path (overrides $CONFIG_PATH)")
	f.DurationVar(&c.interval, "interval", 5*time.Second, "diagnostics snapshot interval")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.libos != "" {
		os.Setenv("LIBOS", c.libos)
	}
	if c.configPath != "" {
		os.Setenv("CONFIG_PATH", c.configPath)
	}

	flowos.Init(0, nil)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		fmt.Fprintf(os.Stderr, "serve: sd_notify failed: %v\n", err)
	} else if !ok {
		fmt.Fprintln(os.Stderr, "serve: not running under systemd notify supervision")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return subcommands.ExitSuccess
		case <-sigCh:
			daemon.SdNotify(false, daemon.SdNotifyStopping)
			return subcommands.ExitSuccess
		case <-ticker.C:
			snap := diagnostics.Capture(0, 0)
			fmt.Println(snap.String())
		}
	}
}
