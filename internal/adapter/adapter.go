package adapter

import (
	"context"
)

// Requirement says whether a run can go on without an adapter
type Requirement string

const (
	// Required adapters abort the run when unreachable
	Required Requirement = "required"
	// Optional adapters are disabled for the run when unreachable
	Optional Requirement = "optional"
)

// Adapter is an external system nbsync talks to
type Adapter interface {
	// Name returns the unique identifier for this adapter
	Name() string

	// Ping checks the system is reachable and the credentials accepted
	Ping(ctx context.Context) error
}

// AdapterConfig holds configuration for an adapter instance
type AdapterConfig struct {
	// Enabled determines if the adapter is checked and used at all
	Enabled bool `json:"enabled"`
	// Requirement decides what a failed check does to the run
	Requirement Requirement `json:"requirement"`
}
