// Command seatctl drives the seat bridge from a terminal: it loads a bridge
// config, wires the primary and legacy backends and runs one operation per
// invocation, printing the structured result as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	seatbridge "github.com/opengovern/seat-bridge"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "seatctl:", err)
		os.Exit(1)
	}
}

// run executes one command line. The bridge is closed, and metrics are
// dumped, whether or not the command succeeded.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

type app struct {
	configPath  string
	spoolPath   string
	offline     bool
	dumpMetrics bool
	out         io.Writer
	errOut      io.Writer

	cfg      *seatbridge.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	spool    *spool
	bridge   *seatbridge.SeatBridge
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seatctl",
		Short:         "Run seat reservation operations against the primary and legacy backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "seatbridge.yaml", "bridge config file (.yaml or .toml)")
	root.PersistentFlags().StringVar(&a.spoolPath, "spool", "", "queue mutations that cannot be sent to this file for later replay")
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "treat the network as down: send nothing, spool mutations if --spool is set")
	root.PersistentFlags().BoolVar(&a.dumpMetrics, "metrics", false, "print collected metrics to stderr on exit")

	root.AddCommand(
		a.callCmd(),
		a.seatsCmd(),
		a.reserveCmd(),
		a.checkInCmd(),
		a.walkInCmd(),
		a.lockCmd(),
		a.timeslotsCmd(),
		a.testCmd(),
		a.opsCmd(),
		a.spoolCmd(),
	)
	return root
}

// open loads the config and builds the bridge. withQueue attaches the
// spool, if one was requested.
func (a *app) open(withQueue bool) error {
	if a.bridge != nil {
		return nil
	}
	cfg, err := seatbridge.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = seatbridge.NewLogger(cfg.Logging)
	a.registry = prometheus.NewRegistry()
	if a.spoolPath != "" {
		a.spool = newSpool(a.spoolPath)
	}

	var queue seatbridge.OfflineQueue
	if withQueue && a.spool != nil {
		queue = a.spool
	}
	a.bridge, err = newBridge(cfg, a.logger, a.registry, seatbridge.StaticStatus(!a.offline), queue)
	return err
}

func (a *app) close() error {
	if a.bridge == nil {
		return nil
	}
	a.bridge.Close()
	if !a.dumpMetrics {
		return nil
	}
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(a.errOut, mf); err != nil {
			return err
		}
	}
	return nil
}

// print writes res as indented JSON and turns a failed result into an
// error so the exit status reflects it.
func (a *app) print(res *seatbridge.Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(a.out, string(b))
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Kind, res.Error)
	}
	return nil
}
