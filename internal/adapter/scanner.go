package adapter

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"nbsync/internal/domain"
)

// Prober reports whether a TCP port accepts connections
type Prober interface {
	Probe(ctx context.Context, host string, port int) bool
}

// DialFunc opens a network connection
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPProber probes ports with a plain TCP connect
type TCPProber struct {
	timeout time.Duration
	dial    DialFunc
}

// NewTCPProber creates a prober whose every attempt is bounded by timeout
func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialer := &net.Dialer{}
	return &TCPProber{timeout: timeout, dial: dialer.DialContext}
}

// WithDial replaces the dialer
func (p *TCPProber) WithDial(dial DialFunc) *TCPProber {
	p.dial = dial
	return p
}

// Probe never fails: refused, unreachable, timed out and unresolvable all
// report closed.
func (p *TCPProber) Probe(ctx context.Context, host string, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ScannerConfig holds configuration for the scan coordinator
type ScannerConfig struct {
	// MaxConcurrency bounds in-flight probes across every host of a scan
	MaxConcurrency int
	// LivenessPorts are probed to find live hosts
	LivenessPorts []int
	// MaxHosts caps the expansion of one CIDR block
	MaxHosts int
	// ResolveNames enables reverse DNS on discovered hosts
	ResolveNames bool
}

// DefaultScannerConfig returns defaults for small lab networks
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		MaxConcurrency: 50,
		LivenessPorts:  DefaultLivenessPorts,
		MaxHosts:       DefaultMaxHosts,
		ResolveNames:   true,
	}
}

// Scanner fans probes out over a bounded pool. All scans started from one
// Scanner share the same probe budget.
type Scanner struct {
	prober     Prober
	config     ScannerConfig
	sem        *semaphore.Weighted
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
	log        zerolog.Logger
}

// NewScanner creates a scan coordinator
func NewScanner(prober Prober, config ScannerConfig, log zerolog.Logger) *Scanner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultScannerConfig().MaxConcurrency
	}
	if len(config.LivenessPorts) == 0 {
		config.LivenessPorts = DefaultLivenessPorts
	}
	if config.MaxHosts <= 0 {
		config.MaxHosts = DefaultMaxHosts
	}
	return &Scanner{
		prober:     prober,
		config:     config,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrency)),
		lookupAddr: net.DefaultResolver.LookupAddr,
		log:        log,
	}
}

// Name returns the adapter identifier
func (s *Scanner) Name() string {
	return "scanner"
}

// Ping has nothing remote to check
func (s *Scanner) Ping(context.Context) error {
	return nil
}

// ScanPorts probes every port of one host. The result holds every
// requested port; probes that could not run report closed.
func (s *Scanner) ScanPorts(ctx context.Context, host string, ports []int) domain.ScanResult {
	result := domain.ScanResult{Host: host, Ports: make(map[int]bool, len(ports))}
	for _, p := range ports {
		result.Ports[p] = false
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			defer s.sem.Release(1)
			if s.prober.Probe(ctx, host, p) {
				mu.Lock()
				result.Ports[p] = true
				mu.Unlock()
			}
		}(port)
	}
	wg.Wait()

	return result
}

// ScanHosts scans several hosts in parallel
func (s *Scanner) ScanHosts(ctx context.Context, targets []domain.ScanTarget) map[string]domain.ScanResult {
	results := make(map[string]domain.ScanResult, len(targets))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrency)
	for _, target := range targets {
		g.Go(func() error {
			res := s.ScanPorts(ctx, target.Host, target.Ports)
			mu.Lock()
			results[target.Host] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// DiscoverLiveHosts sweeps a CIDR block. A host is live when any liveness
// port accepts a connection; hosts filtering all of them are missed.
func (s *Scanner) DiscoverLiveHosts(ctx context.Context, cidr string) ([]string, error) {
	ips, err := ExpandCIDR(cidr, s.config.MaxHosts)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("network", cidr).
		Int("addresses", len(ips)).
		Ints("ports", s.config.LivenessPorts).
		Msg("Discovering live hosts")

	targets := make([]domain.ScanTarget, len(ips))
	for i, ip := range ips {
		targets[i] = domain.ScanTarget{Host: ip, Ports: s.config.LivenessPorts}
	}

	var live []string
	for host, res := range s.ScanHosts(ctx, targets) {
		if len(res.OpenPorts()) > 0 {
			live = append(live, host)
		}
	}
	sortAddrs(live)

	s.log.Info().Str("network", cidr).Int("live", len(live)).Msg("Host discovery complete")
	return live, nil
}

// Discover sweeps every network for live hosts, then scans ports on them.
// A malformed network is logged and skipped.
func (s *Scanner) Discover(ctx context.Context, networks []string, ports []int) ([]domain.DiscoveredHost, error) {
	seen := make(map[string]bool)
	var live []string
	var lastErr error
	for _, network := range networks {
		hosts, err := s.DiscoverLiveHosts(ctx, network)
		if err != nil {
			s.log.Warn().Err(err).Str("network", network).Msg("Skipping network")
			lastErr = err
			continue
		}
		for _, h := range hosts {
			if !seen[h] {
				seen[h] = true
				live = append(live, h)
			}
		}
	}
	if len(live) == 0 && lastErr != nil {
		return nil, lastErr
	}
	sortAddrs(live)

	targets := make([]domain.ScanTarget, len(live))
	for i, ip := range live {
		targets[i] = domain.ScanTarget{Host: ip, Ports: ports}
	}
	results := s.ScanHosts(ctx, targets)

	hosts := make([]domain.DiscoveredHost, 0, len(live))
	for _, ip := range live {
		open := results[ip].OpenPorts()
		host := domain.DiscoveredHost{
			IP:        ip,
			OpenPorts: open,
			Services:  make(map[int]string, len(open)),
		}
		for _, p := range open {
			host.Services[p] = ServiceName(p)
		}
		if s.config.ResolveNames {
			host.Hostname = s.reverseDNS(ctx, ip)
		}

		s.log.Debug().
			Str("ip", ip).
			Str("hostname", host.Hostname).
			Ints("open_ports", open).
			Msg("Host scanned")
		hosts = append(hosts, host)
	}

	return hosts, nil
}

// reverseDNS performs a reverse DNS lookup
func (s *Scanner) reverseDNS(ctx context.Context, ip string) string {
	names, err := s.lookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func sortAddrs(ips []string) {
	sort.Slice(ips, func(i, j int) bool {
		a, errA := netip.ParseAddr(ips[i])
		b, errB := netip.ParseAddr(ips[j])
		if errA != nil || errB != nil {
			return ips[i] < ips[j]
		}
		return a.Less(b)
	})
}
