package memory

import (
	"time"

	"github.com/realstake/realstake-backend/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendMemory, func(cfg kv.Config) (kv.Store, error) {
		return New(cfg.JanitorInterval), nil
	})
}

// NewStore creates an in-memory store with the default janitor interval
func NewStore() kv.Store {
	return New(30 * time.Second)
}
