// Package domain defines the core types shared by every nbsync component.
//
// # Catalog Entities
//
// Kind names a NetBox object type (site, device, virtual machine, interface,
// MAC address, IP address, service and the supporting types). CatalogRecord is
// a decoded NetBox object; DesiredEntity is what a pass wants an object to
// look like, keyed by its natural identity (name, name within parent, address
// or MAC string).
//
// # Inventory and Discovery
//
// InventoryItem is one Proxmox guest with its sizing and primary adapter MAC.
// ArpEntry pairs a MAC with the IP a router observed for it. ScanResult and
// DiscoveredHost carry the output of the TCP scanner.
//
// # Outcomes
//
// Every top-level entity processed by a pass yields an EntityOutcome. Outcomes
// are collected into a BatchSummary, which reports attempted, reconciled and
// failed counts.
//
// # Errors
//
// Failures are classified (see Classify) into transient, application,
// validation, fatal and unsupported. Only FatalError aborts a pass; every
// other class is recorded against the entity and the pass continues.
package domain
