package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nbsync/internal/codec"
	"nbsync/internal/config"
	"nbsync/internal/domain"
	"nbsync/internal/logger"
	"nbsync/internal/service"
)

// Exit codes
const (
	ExitSuccess = 0
	// ExitPartial means the pass ran but some entities failed, or there was
	// nothing to reconcile
	ExitPartial = 1
	// ExitFatal means the pass could not run: bad config or an unreachable
	// required system
	ExitFatal = 2
)

// exitError carries an explicit exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error onto the process exit code
func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, domain.ErrFatal):
		return ExitFatal
	default:
		return ExitPartial
	}
}

// globalFlags are shared by every command
type globalFlags struct {
	configPath string
	debug      bool
	output     string
}

// exporter returns nil for table output
func (g *globalFlags) exporter() (codec.Exporter, error) {
	if g.output == "" || g.output == "table" {
		return nil, nil
	}
	e, err := codec.ForFormat(g.output)
	if err != nil {
		return nil, &domain.FatalError{Component: "cli", Err: err}
	}
	return e, nil
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	run := &runFlags{}

	cmd := &cobra.Command{
		Use:   "nbsync",
		Short: "Reconcile Proxmox guests and discovered hosts into NetBox",
		Long: `nbsync reads VMs and containers from Proxmox VE, resolves their addresses
from the OPNsense ARP table, scans them and the configured networks for open
TCP ports, and makes NetBox match what it found. Running it again with no
changes in the environment changes nothing in NetBox.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, g, run)
		},
	}
	cmd.SetVersionTemplate(`{{printf "nbsync version %s\n" .Version}}`)

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default: search $NBSYNC_CONFIG, ./nbsync.yaml, ~/.config/nbsync/config.yaml)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&g.output, "output", "o", "table", "output format: table, json or yaml")
	run.register(cmd)

	cmd.AddCommand(newScanCmd(g))
	cmd.AddCommand(newHistoryCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newInitCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// execute runs the CLI and returns the exit code
func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return exitCode(err)
}

// loadConfig reads and validates the config file. Blocking problems are
// fatal; warnings are logged once the logger exists.
func loadConfig(g *globalFlags) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if g.configPath != "" {
		cfg, path, err = config.LoadFromPath(g.configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, &domain.FatalError{Component: "config", Err: err}
	}
	return cfg, path, nil
}

// newLogger builds the root logger from the config's logging section
func newLogger(cfg logger.Config, debug bool) (zerolog.Logger, error) {
	if debug {
		cfg.Debug = true
	}
	log, err := logger.New(cfg)
	if err != nil {
		return log, &domain.FatalError{Component: "config", Err: fmt.Errorf("logging: %w", err)}
	}
	return log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of nbsync",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nbsync version %s\n", version)
		},
	}
}

// partialError reports entity failures of a pass that otherwise completed
func partialError(report *service.RunReport) error {
	if report == nil || report.Failed() == 0 {
		return nil
	}
	return &exitError{code: ExitPartial, err: fmt.Errorf("%d entities failed to reconcile", report.Failed())}
}
