package adapter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"

	"nbsync/internal/domain"
)

// Fingerprinter names the services behind open ports with nmap version
// detection. It refines the port-number guesses of the TCP scanner.
type Fingerprinter struct {
	timeout           time.Duration
	serviceDetection  bool
	skipHostDiscovery bool
	log               zerolog.Logger
}

// NewFingerprinter creates an nmap-based fingerprinter
func NewFingerprinter(log zerolog.Logger, opts ...NmapOption) *Fingerprinter {
	f := &Fingerprinter{
		timeout:           5 * time.Minute,
		serviceDetection:  true,
		skipHostDiscovery: true,
		log:               log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the adapter identifier
func (f *Fingerprinter) Name() string {
	return "nmap"
}

// Ping checks that the nmap binary can run
func (f *Fingerprinter) Ping(ctx context.Context) error {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets("localhost"),
		nmap.WithListScan(),
	)
	if err != nil {
		return fmt.Errorf("nmap unavailable: %w", err)
	}
	if _, _, err := scanner.Run(); err != nil {
		return fmt.Errorf("nmap unavailable: %w", err)
	}
	return nil
}

// Enrich runs one nmap pass over the open ports of the given hosts and
// replaces their service names with what nmap detected. Hosts without open
// ports are left alone. On failure the hosts are returned unchanged.
func (f *Fingerprinter) Enrich(ctx context.Context, hosts []domain.DiscoveredHost) ([]domain.DiscoveredHost, error) {
	var targets []string
	portSet := make(map[int]bool)
	for _, h := range hosts {
		if len(h.OpenPorts) == 0 {
			continue
		}
		targets = append(targets, h.IP)
		for _, p := range h.OpenPorts {
			portSet[p] = true
		}
	}
	if len(targets) == 0 {
		return hosts, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPorts(joinPorts(portSet)),
	}
	if f.serviceDetection {
		opts = append(opts, nmap.WithServiceInfo())
	}
	if f.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return hosts, fmt.Errorf("failed to create scanner: %w", err)
	}

	f.log.Info().Int("hosts", len(targets)).Int("ports", len(portSet)).Msg("Fingerprinting services")
	result, warnings, err := scanner.Run()
	if err != nil {
		return hosts, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		f.log.Warn().Strs("warnings", *warnings).Msg("nmap reported warnings")
	}

	return applyServices(hosts, processResults(result)), nil
}

// processResults maps each up host's address to the services nmap named
// on its open ports
func processResults(result *nmap.Run) map[string]map[int]string {
	services := make(map[string]map[int]string)
	if result == nil {
		return services
	}

	for _, host := range result.Hosts {
		if len(host.Addresses) == 0 || host.Status.State != "up" {
			continue
		}

		var ip string
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" || addr.AddrType == "ipv6" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" {
			continue
		}

		found := make(map[int]string)
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			if label := serviceLabel(port); label != "" {
				found[int(port.ID)] = label
			}
		}
		if len(found) > 0 {
			services[ip] = found
		}
	}

	return services
}

// serviceLabel builds "Product Version" when nmap identified the software,
// otherwise the upper-cased service name
func serviceLabel(port nmap.Port) string {
	if port.Service.Product != "" {
		label := port.Service.Product
		if port.Service.Version != "" {
			label += " " + port.Service.Version
		}
		return label
	}
	return strings.ToUpper(port.Service.Name)
}

func applyServices(hosts []domain.DiscoveredHost, services map[string]map[int]string) []domain.DiscoveredHost {
	out := make([]domain.DiscoveredHost, len(hosts))
	for i, h := range hosts {
		out[i] = h
		found, ok := services[h.IP]
		if !ok {
			continue
		}
		merged := make(map[int]string, len(h.Services))
		for p, name := range h.Services {
			merged[p] = name
		}
		for p, name := range found {
			merged[p] = name
		}
		out[i].Services = merged
	}
	return out
}

func joinPorts(set map[int]bool) string {
	ports := make([]int, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
