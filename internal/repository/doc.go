// Package repository defines the run journal of nbsync.
//
// The journal stores one row per reconciliation pass and one row per entity
// outcome, so operators can look back at what earlier runs created, changed
// or failed on. The actual implementation is in the sqlite subpackage.
//
// The journal never caches catalog ids or desired state: every pass looks
// entities up in the catalog again.
package repository
