package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"nbsync/internal/adapter"
	"nbsync/internal/catalog"
	"nbsync/internal/config"
	"nbsync/internal/executor"
	"nbsync/internal/logger"
	"nbsync/internal/repository"
	"nbsync/internal/repository/sqlite"
	"nbsync/internal/service"
)

// app is the wired set of components for one invocation
type app struct {
	sync     *service.SyncService
	registry *adapter.Registry
	journal  repository.Journal
	events   *service.EventBus
	done     chan struct{}
}

// Close releases the journal and stops the progress logger
func (a *app) Close() {
	if a.events != nil {
		close(a.done)
	}
	if a.journal != nil {
		a.journal.Close()
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		Attempts: cfg.General.RetryCount,
		Timeout:  cfg.General.RequestTimeout.Duration(),
		Delay:    cfg.General.RetryDelay.Duration(),
	}
}

// buildApp constructs every client, scanner and service from the config
func buildApp(cfg *config.Config, flags *runFlags, log zerolog.Logger) (*app, error) {
	execCfg := executorConfig(cfg)
	newExec := func(verifyTLS bool, component string) *executor.Executor {
		return executor.New(executor.NewHTTPClient(verifyTLS), execCfg, logger.WithComponent(log, component))
	}

	netbox := catalog.New(cfg.NetBox.URL, cfg.NetBox.Token, cfg.NetBox.AuthScheme,
		newExec(cfg.NetBox.VerifyTLS, "netbox"), logger.WithComponent(log, "netbox"))
	pve := adapter.NewProxmox(cfg.Proxmox.Host, cfg.Proxmox.User, cfg.Proxmox.TokenName, cfg.Proxmox.TokenSecret,
		newExec(cfg.Proxmox.VerifyTLS, "proxmox"), logger.WithComponent(log, "proxmox"))
	opn := adapter.NewOPNsense(cfg.OPNsense.URL, cfg.OPNsense.Key, cfg.OPNsense.Secret,
		newExec(cfg.OPNsense.VerifyTLS, "opnsense"), logger.WithComponent(log, "opnsense"))

	ns := cfg.NetworkScanning
	networkScan := ns.Enabled && !flags.noNetworkScan && len(ns.Networks) > 0
	portScan := cfg.PortScanning.Enabled && !flags.noPortScan
	fingerprinter := adapter.NewFingerprinter(logger.WithComponent(log, "nmap"))

	registry := adapter.NewRegistry(logger.WithComponent(log, "registry"))
	registrations := []struct {
		adapter adapter.Adapter
		config  adapter.AdapterConfig
	}{
		{netbox, adapter.AdapterConfig{Enabled: true, Requirement: adapter.Required}},
		{pve, adapter.AdapterConfig{Enabled: true, Requirement: adapter.Required}},
		{opn, adapter.AdapterConfig{Enabled: cfg.OPNsense.Enabled() && !flags.noARP, Requirement: adapter.Optional}},
		{fingerprinter, adapter.AdapterConfig{Enabled: networkScan && ns.ServiceDetection, Requirement: adapter.Optional}},
	}
	for _, r := range registrations {
		if err := registry.Register(r.adapter, r.config); err != nil {
			return nil, err
		}
	}

	src := service.Sources{
		Registry:  registry,
		Inventory: pve,
	}
	syncCfg := service.SyncConfig{ResolveARP: cfg.OPNsense.Enabled() && !flags.noARP}

	if syncCfg.ResolveARP {
		src.ARP = opn
	}
	if portScan {
		ports, err := adapter.ParsePorts(cfg.PortScanning.Ports)
		if err != nil {
			return nil, fmt.Errorf("port_scanning.ports: %w", err)
		}
		syncCfg.ScanPorts = ports
		src.Ports = adapter.NewScanner(
			adapter.NewTCPProber(cfg.PortScanning.Timeout.Duration()),
			adapter.ScannerConfig{MaxConcurrency: cfg.PortScanning.MaxConcurrency},
			logger.WithComponent(log, "port-scan"),
		)
	}
	if networkScan {
		scanner, ports, err := networkScanner(cfg, log)
		if err != nil {
			return nil, err
		}
		syncCfg.Networks = ns.Networks
		syncCfg.DiscoveryPorts = ports
		src.Network = scanner
		if ns.ServiceDetection {
			src.Enricher = fingerprinter
		}
	}

	a := &app{registry: registry}
	if !cfg.Journal.Disabled {
		journal, err := sqlite.New(cfg.Journal.Path, logger.WithComponent(log, "journal"))
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Journal.Path).Msg("Run journal unavailable, results will not be recorded")
		} else {
			a.journal = journal
		}
	}

	a.events = service.NewEventBus()
	a.done = make(chan struct{})
	progress := make(chan service.Event, 64)
	a.events.Subscribe(progress)
	go logProgress(progress, a.done, logger.WithComponent(log, "progress"))

	orch := service.NewOrchestrator(netbox, orchestratorOptions(cfg), flags.dryRun, a.events, logger.WithComponent(log, "orchestrator"))
	a.sync = service.NewSyncService(orch, src, syncCfg, a.journal, logger.WithComponent(log, "sync"))
	return a, nil
}

// networkScanner builds the sweep scanner and parses its port list
func networkScanner(cfg *config.Config, log zerolog.Logger) (*adapter.Scanner, []int, error) {
	ns := cfg.NetworkScanning
	ports, err := adapter.ParsePorts(ns.Ports)
	if err != nil {
		return nil, nil, fmt.Errorf("network_scanning.ports: %w", err)
	}
	scanner := adapter.NewScanner(
		adapter.NewTCPProber(ns.Timeout.Duration()),
		adapter.ScannerConfig{
			MaxConcurrency: ns.MaxConcurrency,
			LivenessPorts:  ns.LivenessPorts,
			MaxHosts:       ns.MaxHosts,
			ResolveNames:   true,
		},
		logger.WithComponent(log, "network-scan"),
	)
	return scanner, ports, nil
}

func orchestratorOptions(cfg *config.Config) service.Options {
	ns := cfg.NetworkScanning
	return service.Options{
		ClusterName:  cfg.NetBox.ClusterName,
		ClusterType:  cfg.NetBox.ClusterType,
		SiteName:     ns.SiteName,
		Manufacturer: ns.Manufacturer,
		DeviceType:   ns.DeviceType,
		DeviceRole:   ns.DeviceRole,
		ServiceLabel: adapter.ServiceName,
	}
}

// logProgress writes entity events at debug level until done is closed
func logProgress(ch <-chan service.Event, done <-chan struct{}, log zerolog.Logger) {
	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			e := log.Debug().Str("event", string(ev.Type)).Str("batch", ev.Batch)
			if ev.Outcome != nil {
				e = e.Str("entity", ev.Outcome.Entity).Str("action", string(ev.Outcome.Action))
			}
			e.Msg("Progress")
		}
	}
}
