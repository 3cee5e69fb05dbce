package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nbsync/internal/codec"
	"nbsync/internal/domain"
	"nbsync/internal/report"
	"nbsync/internal/service"
)

// runFlags switch steps of a pass on or off
type runFlags struct {
	dryRun        bool
	noARP         bool
	noPortScan    bool
	noNetworkScan bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "show what would change without writing to NetBox")
	cmd.Flags().BoolVar(&f.noARP, "no-arp", false, "skip resolving guest addresses from the OPNsense ARP table")
	cmd.Flags().BoolVar(&f.noPortScan, "no-port-scan", false, "skip scanning guest ports")
	cmd.Flags().BoolVar(&f.noNetworkScan, "no-network-scan", false, "skip sweeping the configured networks")
}

func runSync(cmd *cobra.Command, g *globalFlags, flags *runFlags) error {
	cfg, path, err := loadConfig(g)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging, g.debug)
	if err != nil {
		return err
	}

	v := cfg.Validate()
	for _, w := range v.Warnings {
		log.Warn().Str("config", path).Msg(w)
	}
	if err := v.Err(); err != nil {
		return &domain.FatalError{Component: "config", Err: err}
	}

	exporter, err := g.exporter()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, flags, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("config", path).
		Bool("dry_run", flags.dryRun).
		Str("version", version).
		Msg("Starting reconciliation pass")

	rep, err := a.sync.Run(cmd.Context())
	for _, info := range a.registry.ListAdapters() {
		log.Debug().
			Str("adapter", info.Name).
			Str("requirement", string(info.Requirement)).
			Bool("enabled", info.Enabled).
			Bool("usable", info.Usable).
			Msg("Adapter state")
	}
	if errors.Is(err, service.ErrEmptyInventory) {
		return &exitError{code: ExitPartial, err: err}
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if exporter != nil {
		if err := exporter.Export(codec.NewDocument(rep.Batches(), rep.RunIDs), out); err != nil {
			return err
		}
		return partialError(rep)
	}
	for _, batch := range rep.Batches() {
		report.WriteSummary(out, batch)
	}
	if len(rep.RunIDs) > 0 {
		fmt.Fprintf(out, "Recorded as run %v\n", rep.RunIDs)
	}

	return partialError(rep)
}
