// Package adapter talks to the systems nbsync reads facts from.
//
// # Collectors
//
// Proxmox walks the hypervisor's nodes, VMs and containers and builds
// domain.InventoryItem values from their configs. OPNsense fetches one ARP
// snapshot per run; ArpTable resolves guest MACs to addresses.
//
// # Scanning
//
// Scanner fans TCP connect probes out over a pool bounded by one
// semaphore, so concurrent host and port scans share a single budget. Every
// requested port appears in a result; a probe that times out reports closed.
// Host liveness is a probe of a few fixed ports, not ICMP.
//
// Fingerprinter optionally runs nmap version detection over the open ports
// the scanner found.
//
// # Registry
//
// Registry pings every adapter before a run. Required adapters abort the
// run when unreachable; optional ones are switched off for it.
package adapter
