// Package service implements the reconciliation logic of nbsync.
//
// # Reconciler
//
// Reconciler makes one catalog entity match its desired state: it looks the
// entity up by natural key (and optionally by a secondary lookup such as the
// owner of an IP address), creates it when absent and patches only the
// fields that differ. A create rejected as a duplicate is followed by one
// re-lookup. In dry-run mode nothing is written and would-be creates report
// ActionPlanned with id 0.
//
// # Orchestrator
//
// Orchestrator runs each guest or discovered host through its dependency
// chain (parent, interface, MAC, IP address, assignment, primary IP,
// services). A stage that fails stops only that entity's dependent stages;
// sibling entities always continue.
//
// # SyncService
//
// SyncService performs complete passes: adapter preflight, inventory
// collection, ARP resolution, guest port scans, inventory reconciliation and
// network discovery, then records each batch in the journal.
//
// # Event System
//
// The orchestrator publishes pass and entity events via EventBus so callers
// can follow progress while a pass runs.
package service
