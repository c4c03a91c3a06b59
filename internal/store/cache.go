package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/realstake/realstake-backend/internal/metrics"
	"github.com/realstake/realstake-backend/pkg/kv"
	memkv "github.com/realstake/realstake-backend/pkg/kv/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Cache struct {
	// When Redis is available, use client for all operations
	client *redis.Client
	// When Redis is unavailable, fall back to an in-memory kv.Store
	kvStore kv.Store
	// In-memory pubsub hub for when Redis is unavailable
	pubsubHub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewCache(addr string, logger *zap.SugaredLogger, metrics *metrics.Metrics) (*Cache, error) {
	if addr == "" {
		return NewMemoryCache(logger, metrics), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache with in-process pubsub", "addr", addr, "error", err)
		}
		_ = client.Close()
		return NewMemoryCache(logger, metrics), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// NewMemoryCache returns a cache that never touches the network.
func NewMemoryCache(logger *zap.SugaredLogger, metrics *metrics.Metrics) *Cache {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		store = memkv.NewStore()
	}
	return &Cache{
		kvStore:   store,
		pubsubHub: NewPubSubHub(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Cache key prefixes and pub/sub channels
const (
	KeyQueryPrefix      = "rsk:q:"
	KeyCoinInfo         = "rsk:coininfo"
	KeyMarkets          = "rsk:markets"
	ChannelOrderbook    = "rsk:orderbook"
	ChannelOrderbookAll = "rsk:orderbook:*"
)

// QueryKey namespaces a live query key for storage.
func QueryKey(key string) string {
	return KeyQueryPrefix + key
}

// OrderbookChannel is the pub/sub channel carrying mirror snapshots for one market.
func OrderbookChannel(marketID uint64) string {
	return fmt.Sprintf("%s:%d", ChannelOrderbook, marketID)
}

// MarketIDFromChannel extracts the market id from an order book channel name.
func MarketIDFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, ChannelOrderbook+":")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				c.recordMiss(ctx, key)
				return ErrCacheMiss
			}
			if c.logger != nil {
				c.logger.Errorw("Cache get error", "key", key, "error", err)
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	} else {
		val, err := c.kvStore.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				c.recordMiss(ctx, key)
				return ErrCacheMiss
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, metricKey(key))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) recordMiss(ctx context.Context, key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx, metricKey(key))
	}
}

// metricKey strips ids from a key so metric cardinality stays bounded
func metricKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return key
	}
	return parts[0] + ":" + parts[1]
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache set error", "key", key, "error", err)
			}
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	if err := c.kvStore.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			}
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	if _, err := c.kvStore.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("cache exists error: %w", err)
		}
		return count > 0, nil
	}
	count, err := c.kvStore.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return count > 0, nil
}

// Publish sends a JSON-encoded message to a channel
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Publish error", "channel", channel, "error", err)
			}
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	if c.pubsubHub != nil {
		n := c.pubsubHub.Publish(channel, string(data))
		if c.logger != nil {
			c.logger.Debugw("Published to in-memory pubsub", "channel", channel, "subscribers", n)
		}
	}
	return nil
}

// Subscribe listens on channel patterns. Patterns ending in '*' match any
// channel with that prefix.
func (c *Cache) Subscribe(ctx context.Context, patterns ...string) Subscription {
	if c.client != nil {
		var exact, globs []string
		for _, p := range patterns {
			if strings.HasSuffix(p, "*") {
				globs = append(globs, p)
			} else {
				exact = append(exact, p)
			}
		}
		ps := c.client.Subscribe(ctx, exact...)
		if len(globs) > 0 {
			if err := ps.PSubscribe(ctx, globs...); err != nil && c.logger != nil {
				c.logger.Errorw("Pattern subscribe error", "patterns", globs, "error", err)
			}
		}
		return newRedisSubscription(ctx, ps)
	}

	if c.logger != nil {
		c.logger.Debugw("Subscribing through in-memory pubsub", "patterns", patterns)
	}
	return c.pubsubHub.Subscribe(ctx, patterns...)
}

// IsInMemoryMode returns true if the cache is running without Redis
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	if c.kvStore != nil {
		if closeErr := c.kvStore.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

var (
	ErrCacheMiss = errors.New("cache miss")
)
