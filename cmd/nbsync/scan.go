package main

import (
	"errors"

	"github.com/spf13/cobra"

	"nbsync/internal/adapter"
	"nbsync/internal/codec"
	"nbsync/internal/config"
	"nbsync/internal/domain"
	"nbsync/internal/logger"
	"nbsync/internal/report"
	"nbsync/internal/service"
)

type scanFlags struct {
	ports            string
	serviceDetection bool
}

// newScanCmd sweeps networks and prints what it finds without touching NetBox
func newScanCmd(g *globalFlags) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan <cidr>...",
		Short: "Discover live hosts and open ports without writing to NetBox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, g, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.ports, "ports", "p", "", "ports to scan on live hosts, e.g. 22,80,443,8000-8100 (default from config)")
	cmd.Flags().BoolVar(&f.serviceDetection, "service-detection", false, "name services with nmap version detection")
	return cmd
}

func runScan(cmd *cobra.Command, g *globalFlags, f *scanFlags, networks []string) error {
	// the config file is optional here; scanning needs no credentials
	cfg, path, err := loadConfig(g)
	if err != nil {
		if g.configPath != "" || config.FindConfigPath() != "" {
			return err
		}
		if cfg, err = config.Parse(nil); err != nil {
			return &domain.FatalError{Component: "config", Err: err}
		}
	}
	log, err := newLogger(cfg.Logging, g.debug)
	if err != nil {
		return err
	}
	exporter, err := g.exporter()
	if err != nil {
		return err
	}

	if f.ports != "" {
		cfg.NetworkScanning.Ports = f.ports
	}
	if err := cfg.ValidateScan().Err(); err != nil {
		log.Debug().Str("config", path).Msg("Scan settings rejected")
		return &domain.FatalError{Component: "config", Err: err}
	}

	scanner, ports, err := networkScanner(cfg, log)
	if err != nil {
		return &domain.FatalError{Component: "scan", Err: err}
	}

	src := service.Sources{Network: scanner}
	if f.serviceDetection || cfg.NetworkScanning.ServiceDetection {
		src.Enricher = adapter.NewFingerprinter(logger.WithComponent(log, "nmap"))
	}
	svc := service.NewSyncService(nil, src, service.SyncConfig{DiscoveryPorts: ports}, nil, logger.WithComponent(log, "scan"))

	hosts, err := svc.Discover(cmd.Context(), networks)
	if errors.Is(err, domain.ErrValidation) {
		return &domain.FatalError{Component: "scan", Err: err}
	}
	if err != nil {
		return err
	}

	if exporter != nil {
		return exporter.Export(codec.NewHostDocument(hosts), cmd.OutOrStdout())
	}
	report.WriteHosts(cmd.OutOrStdout(), hosts)
	return nil
}
