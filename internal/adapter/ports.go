package adapter

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"nbsync/internal/domain"
)

// DefaultMaxHosts caps the number of addresses a single CIDR may expand to
const DefaultMaxHosts = 1024

// DefaultLivenessPorts are probed to decide whether a host is up
var DefaultLivenessPorts = []int{22, 80, 443}

// Common service ports with their typical service names
var wellKnownPorts = map[int]string{
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	110:   "POP3",
	143:   "IMAP",
	443:   "HTTPS",
	445:   "SMB",
	465:   "SMTPS",
	587:   "SMTP",
	636:   "LDAPS",
	993:   "IMAPS",
	995:   "POP3S",
	1433:  "MSSQL",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	6379:  "Redis",
	6443:  "Kubernetes-API",
	8080:  "HTTP-Proxy",
	8443:  "HTTPS-Proxy",
	9090:  "Prometheus",
	9100:  "Node-Exporter",
	9200:  "Elasticsearch",
	27017: "MongoDB",
	50070: "Hadoop",
}

// ServiceName returns the conventional service name for a TCP port
func ServiceName(port int) string {
	if name, ok := wellKnownPorts[port]; ok {
		return name
	}
	return fmt.Sprintf("Service-%d", port)
}

// ParsePorts parses a port list such as "22,80,443,3000-3100" into a
// sorted, de-duplicated slice.
func ParsePorts(spec string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parsePort(lo)
		if err != nil {
			return nil, domain.NewValidationError("ports", part, err.Error())
		}
		end := start
		if isRange {
			if end, err = parsePort(hi); err != nil {
				return nil, domain.NewValidationError("ports", part, err.Error())
			}
			if end < start {
				return nil, domain.NewValidationError("ports", part, "range end before start")
			}
		}
		for p := start; p <= end; p++ {
			seen[p] = true
		}
	}

	if len(seen) == 0 {
		return nil, domain.NewValidationError("ports", spec, "no ports given")
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("out of range 1-65535")
	}
	return p, nil
}

// ExpandCIDR converts a CIDR block to its usable host addresses. A bare
// address expands to itself. The network and broadcast addresses of IPv4
// blocks larger than /31 are left out.
func ExpandCIDR(cidr string, maxHosts int) ([]string, error) {
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}

	cidr = strings.TrimSpace(cidr)
	if !strings.Contains(cidr, "/") {
		addr, err := netip.ParseAddr(cidr)
		if err != nil {
			return nil, domain.NewValidationError("network", cidr, "not a CIDR block or address")
		}
		return []string{addr.String()}, nil
	}

	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, domain.NewValidationError("network", cidr, "not a CIDR block")
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > 30 || (1<<hostBits) > maxHosts+2 {
		return nil, domain.NewValidationError("network", cidr, fmt.Sprintf("range too large (max %d hosts)", maxHosts))
	}

	var ips []string
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		ips = append(ips, addr.String())
		if !addr.Next().IsValid() {
			break
		}
	}

	if prefix.Addr().Is4() && hostBits >= 2 {
		ips = ips[1 : len(ips)-1]
	}
	if len(ips) > maxHosts {
		return nil, domain.NewValidationError("network", cidr, fmt.Sprintf("range too large (max %d hosts)", maxHosts))
	}
	return ips, nil
}
