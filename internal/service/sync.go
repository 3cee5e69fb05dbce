package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nbsync/internal/adapter"
	"nbsync/internal/domain"
	"nbsync/internal/repository"
)

// ErrEmptyInventory is returned when the hypervisor reports no guests
var ErrEmptyInventory = errors.New("inventory is empty")

// InventorySource lists hypervisor guests
type InventorySource interface {
	Collect(ctx context.Context) ([]domain.InventoryItem, error)
}

// ArpSource takes ARP table snapshots
type ArpSource interface {
	FetchARP(ctx context.Context) (adapter.ArpTable, error)
}

// PortScanner probes ports on known hosts
type PortScanner interface {
	ScanHosts(ctx context.Context, targets []domain.ScanTarget) map[string]domain.ScanResult
}

// NetworkScanner sweeps networks for live hosts
type NetworkScanner interface {
	Discover(ctx context.Context, networks []string, ports []int) ([]domain.DiscoveredHost, error)
}

// ServiceEnricher refines the service names of discovered hosts
type ServiceEnricher interface {
	Enrich(ctx context.Context, hosts []domain.DiscoveredHost) ([]domain.DiscoveredHost, error)
}

// Preflighter checks external systems before a pass
type Preflighter interface {
	Preflight(ctx context.Context) error
	Usable(name string) bool
}

// Sources are the systems a pass reads from. Only Inventory is required;
// a nil source turns its step off.
type Sources struct {
	Registry  Preflighter
	Inventory InventorySource
	ARP       ArpSource
	Ports     PortScanner
	Network   NetworkScanner
	Enricher  ServiceEnricher
}

// SyncConfig selects the steps of a pass
type SyncConfig struct {
	ResolveARP bool
	// ScanPorts are probed on running guests; empty disables the scan
	ScanPorts []int
	// Networks are swept for hosts the hypervisor does not know about
	Networks       []string
	DiscoveryPorts []int
}

// RunReport is the result of one full pass
type RunReport struct {
	Inventory *domain.BatchSummary
	Discovery *domain.BatchSummary
	// RunIDs are the journal ids of the recorded batches
	RunIDs []string
}

// Failed is the number of failed entities across both batches
func (r *RunReport) Failed() int {
	n := 0
	for _, s := range r.Batches() {
		n += s.Failed()
	}
	return n
}

// Batches returns the non-empty batches of the pass
func (r *RunReport) Batches() []*domain.BatchSummary {
	var out []*domain.BatchSummary
	if r.Inventory != nil {
		out = append(out, r.Inventory)
	}
	if r.Discovery != nil {
		out = append(out, r.Discovery)
	}
	return out
}

// SyncService runs complete passes: preflight, inventory collection, ARP
// resolution, port scans, inventory reconciliation and network discovery.
type SyncService struct {
	orch    *Orchestrator
	src     Sources
	cfg     SyncConfig
	journal repository.Journal
	log     zerolog.Logger
}

// NewSyncService creates a sync service. journal may be nil.
func NewSyncService(orch *Orchestrator, src Sources, cfg SyncConfig, journal repository.Journal, log zerolog.Logger) *SyncService {
	return &SyncService{
		orch:    orch,
		src:     src,
		cfg:     cfg,
		journal: journal,
		log:     log,
	}
}

// Run performs one pass. A returned error means the pass could not run at
// all; entity failures are reported through the RunReport.
func (s *SyncService) Run(ctx context.Context) (*RunReport, error) {
	start := time.Now()

	if s.src.Registry != nil {
		if err := s.src.Registry.Preflight(ctx); err != nil {
			return nil, err
		}
	}

	items, err := s.src.Inventory.Collect(ctx)
	if err != nil {
		return nil, &domain.FatalError{Component: "inventory", Err: err}
	}
	if len(items) == 0 {
		return nil, ErrEmptyInventory
	}

	s.resolveARP(ctx, items)
	openPorts := s.scanGuests(ctx, items)

	report := &RunReport{}
	report.Inventory = s.orch.SyncInventory(ctx, items, openPorts)

	if hosts := s.discover(ctx, items); hosts != nil {
		report.Discovery = s.orch.SyncDiscovered(ctx, hosts)
	}

	for _, batch := range report.Batches() {
		s.logBatch(batch)
		if id := s.record(ctx, batch); id != "" {
			report.RunIDs = append(report.RunIDs, id)
		}
	}

	s.log.Info().
		Int("failed", report.Failed()).
		Dur("elapsed", time.Since(start)).
		Bool("dry_run", s.orch.Reconciler().DryRun()).
		Msg("Pass complete")

	return report, nil
}

// Discover runs only the network sweep and returns what it found
func (s *SyncService) Discover(ctx context.Context, networks []string) ([]domain.DiscoveredHost, error) {
	if s.src.Network == nil {
		return nil, errors.New("network scanning is not configured")
	}
	hosts, err := s.src.Network.Discover(ctx, networks, s.cfg.DiscoveryPorts)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, hosts), nil
}

func (s *SyncService) usable(name string) bool {
	return s.src.Registry == nil || s.src.Registry.Usable(name)
}

func (s *SyncService) resolveARP(ctx context.Context, items []domain.InventoryItem) {
	if !s.cfg.ResolveARP || s.src.ARP == nil || !s.usable("opnsense") {
		return
	}

	table, err := s.src.ARP.FetchARP(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("ARP lookup failed, continuing without IP addresses")
		return
	}
	resolved := table.Resolve(items)
	s.log.Info().Int("resolved", resolved).Int("guests", len(items)).Msg("ARP resolution complete")
}

// scanGuests probes the configured ports on running guests with a known
// address and returns the open ports per address
func (s *SyncService) scanGuests(ctx context.Context, items []domain.InventoryItem) map[string][]int {
	if s.src.Ports == nil || len(s.cfg.ScanPorts) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var targets []domain.ScanTarget
	for _, item := range items {
		if !item.Running || item.IP == "" || seen[item.IP] {
			continue
		}
		seen[item.IP] = true
		targets = append(targets, domain.ScanTarget{Host: item.IP, Ports: s.cfg.ScanPorts})
	}
	if len(targets) == 0 {
		return nil
	}

	s.log.Info().Int("hosts", len(targets)).Ints("ports", s.cfg.ScanPorts).Msg("Scanning guest ports")
	open := make(map[string][]int, len(targets))
	for host, res := range s.src.Ports.ScanHosts(ctx, targets) {
		if ports := res.OpenPorts(); len(ports) > 0 {
			open[host] = ports
		}
	}
	return open
}

// discover sweeps the configured networks and drops hosts that belong to
// the inventory. It returns nil when discovery is off or failed.
func (s *SyncService) discover(ctx context.Context, items []domain.InventoryItem) []domain.DiscoveredHost {
	if s.src.Network == nil || len(s.cfg.Networks) == 0 {
		return nil
	}

	hosts, err := s.src.Network.Discover(ctx, s.cfg.Networks, s.cfg.DiscoveryPorts)
	if err != nil {
		s.log.Warn().Err(err).Strs("networks", s.cfg.Networks).Msg("Network discovery failed")
		return nil
	}

	known := make(map[string]bool, len(items))
	for _, item := range items {
		if item.IP != "" {
			known[item.IP] = true
		}
	}
	filtered := make([]domain.DiscoveredHost, 0, len(hosts))
	for _, h := range hosts {
		if known[h.IP] {
			s.log.Debug().Str("ip", h.IP).Msg("Discovered host is an inventory guest, skipping")
			continue
		}
		filtered = append(filtered, h)
	}

	return s.enrich(ctx, filtered)
}

func (s *SyncService) enrich(ctx context.Context, hosts []domain.DiscoveredHost) []domain.DiscoveredHost {
	if s.src.Enricher == nil || !s.usable("nmap") {
		return hosts
	}
	enriched, err := s.src.Enricher.Enrich(ctx, hosts)
	if err != nil {
		s.log.Warn().Err(err).Msg("Service fingerprinting failed, keeping port-based names")
		return hosts
	}
	return enriched
}

func (s *SyncService) logBatch(batch *domain.BatchSummary) {
	ev := s.log.Info()
	if batch.Failed() > 0 {
		ev = s.log.Warn()
	}
	counts := batch.Counts()
	ev.Str("batch", batch.Name).
		Int("attempted", batch.Attempted()).
		Int("created", counts[domain.ActionCreated]).
		Int("updated", counts[domain.ActionUpdated]).
		Int("unchanged", counts[domain.ActionUnchanged]).
		Int("planned", counts[domain.ActionPlanned]).
		Int("skipped", counts[domain.ActionSkipped]).
		Int("failed", batch.Failed()).
		Msg("Batch summary")
}

func (s *SyncService) record(ctx context.Context, batch *domain.BatchSummary) string {
	if s.journal == nil {
		return ""
	}
	run, err := s.journal.RecordRun(ctx, batch)
	if err != nil {
		s.log.Warn().Err(fmt.Errorf("journal: %w", err)).Str("batch", batch.Name).Msg("Failed to record run")
		return ""
	}
	return run.ID
}
