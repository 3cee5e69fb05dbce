package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"nbsync/internal/domain"
)

// Registry tracks the adapters of one run and which of them are usable
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	configs  map[string]AdapterConfig
	order    []string
	usable   map[string]bool
	log      zerolog.Logger
}

// NewRegistry creates a new adapter registry
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		configs:  make(map[string]AdapterConfig),
		usable:   make(map[string]bool),
		log:      log,
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(adapter Adapter, config AdapterConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}

	r.adapters[name] = adapter
	r.configs[name] = config
	r.order = append(r.order, name)
	r.log.Debug().
		Str("adapter", name).
		Str("requirement", string(config.Requirement)).
		Bool("enabled", config.Enabled).
		Msg("Registered adapter")

	return nil
}

// Preflight pings every enabled adapter in registration order. A required
// adapter that fails aborts with a *domain.FatalError; an optional one is
// logged and marked unusable.
func (r *Registry) Preflight(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		config := r.configs[name]
		if !config.Enabled {
			r.usable[name] = false
			continue
		}

		err := r.adapters[name].Ping(ctx)
		if err == nil {
			r.usable[name] = true
			r.log.Info().Str("adapter", name).Msg("Adapter reachable")
			continue
		}

		r.usable[name] = false
		if config.Requirement == Required {
			if errors.Is(err, domain.ErrFatal) {
				return err
			}
			return &domain.FatalError{Component: name, Err: err}
		}
		r.log.Warn().Err(err).Str("adapter", name).Msg("Optional adapter unavailable, continuing without it")
	}

	return nil
}

// Usable reports whether an adapter passed preflight
func (r *Registry) Usable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usable[name]
}

// ListAdapters returns information about registered adapters
func (r *Registry) ListAdapters() []AdapterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]AdapterInfo, 0, len(r.order))
	for _, name := range r.order {
		config := r.configs[name]
		infos = append(infos, AdapterInfo{
			Name:        name,
			Requirement: config.Requirement,
			Enabled:     config.Enabled,
			Usable:      r.usable[name],
		})
	}
	return infos
}

// AdapterInfo provides read-only information about an adapter
type AdapterInfo struct {
	Name        string      `json:"name"`
	Requirement Requirement `json:"requirement"`
	Enabled     bool        `json:"enabled"`
	Usable      bool        `json:"usable"`
}
