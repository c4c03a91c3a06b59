package kv

import (
	"fmt"
	"time"
)

// Backend names a registered Store implementation
type Backend string

const (
	BackendMemory Backend = "memory"
)

// Config holds configuration for creating a Store instance
type Config struct {
	Backend Backend

	// JanitorInterval controls how often expired keys are swept.
	// Zero selects the default of 30 seconds.
	JanitorInterval time.Duration
}

// StoreFactory creates a Store from a Config
type StoreFactory func(cfg Config) (Store, error)

var factories = make(map[Backend]StoreFactory)

// RegisterBackend makes a backend available to NewStoreFromConfig.
// Backends register themselves from init().
func RegisterBackend(backend Backend, factory StoreFactory) {
	factories[backend] = factory
}

// NewStoreFromConfig creates a Store for the configured backend.
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}

	factory, ok := factories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("kv backend %q not registered", cfg.Backend)
	}
	return factory(cfg)
}
