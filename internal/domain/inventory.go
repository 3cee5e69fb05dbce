package domain

import (
	"fmt"
	"sort"
	"strings"
)

// GuestType distinguishes full VMs from containers on the hypervisor
type GuestType string

const (
	GuestVM        GuestType = "qemu"
	GuestContainer GuestType = "lxc"
)

// Label returns the short form used in descriptions
func (g GuestType) Label() string {
	if g == GuestContainer {
		return "Container"
	}
	return "VM"
}

// InventoryItem is one VM or container reported by the hypervisor
type InventoryItem struct {
	VMID     int
	Name     string
	Node     string
	Type     GuestType
	Running  bool
	VCPUs    int
	MemoryMB int
	DiskGB   int
	MAC      string
	IP       string
}

// Status maps the power state onto the catalog status choice
func (i InventoryItem) Status() string {
	if i.Running {
		return "active"
	}
	return "offline"
}

// Description is the free-text summary written to the catalog
func (i InventoryItem) Description() string {
	mac := i.MAC
	if mac == "" {
		mac = "N/A"
	}
	return fmt.Sprintf("Type: %s | VMID: %d | Node: %s | MAC: %s", i.Type.Label(), i.VMID, i.Node, mac)
}

// ArpEntry is one row of the firewall ARP table
type ArpEntry struct {
	MAC string
	IP  string
}

// NormalizeMAC lower-cases a MAC address and converts '-' separators to ':'.
// The second return value is false when the input is not a 48-bit MAC.
func NormalizeMAC(mac string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(mac))
	m = strings.ReplaceAll(m, "-", ":")
	parts := strings.Split(m, ":")
	if len(parts) != 6 {
		return m, false
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return m, false
		}
	}
	return m, true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// ScanTarget is a host and the ports to probe on it
type ScanTarget struct {
	Host  string
	Ports []int
}

// ScanResult holds the probe outcome of every requested port on a host
type ScanResult struct {
	Host  string
	Ports map[int]bool
}

// OpenPorts returns the open ports in ascending order
func (r ScanResult) OpenPorts() []int {
	open := make([]int, 0, len(r.Ports))
	for p, ok := range r.Ports {
		if ok {
			open = append(open, p)
		}
	}
	sort.Ints(open)
	return open
}

// DiscoveredHost is a live host found by a network sweep
type DiscoveredHost struct {
	IP        string
	Hostname  string
	OpenPorts []int
	// Services maps open ports to detected service names
	Services map[int]string
}
