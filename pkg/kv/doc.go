// Package kv provides a small key-value store abstraction with expiry.
//
// Backends register themselves with RegisterBackend from an init function,
// so importing a backend package for side effects makes it available:
//
//	import _ "github.com/realstake/realstake-backend/pkg/kv/memory"
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	_ = store.Set(ctx, "rsk:orderbook:7", payload, 30*time.Second)
//	data, err := store.Get(ctx, "rsk:orderbook:7")
//	if errors.Is(err, kv.ErrNotFound) {
//		// expired or never written
//	}
//
// The kvtest package holds a conformance suite every backend must pass.
package kv
