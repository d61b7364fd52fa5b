package mongobase

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Process-wide state shared by every Context.
//
// The connection cache maps an exact connection string to the client built
// for it. The collection-name cache maps a DiscoveryKey to the names found by
// the first Context constructed for that key. Both are populated on first use
// and never evicted; ResetSharedState and CloseSharedClients are the only
// teardown hooks.

// sharedClient is one connection cache entry
type sharedClient struct {
	settings *ClientSettings
	client   Client
}

var connections = struct {
	mu      sync.Mutex
	clients map[string]*sharedClient
}{clients: make(map[string]*sharedClient)}

var collections = struct {
	mu    sync.RWMutex
	names map[DiscoveryKey][]string
	group singleflight.Group
}{names: make(map[DiscoveryKey][]string)}

// acquireClient returns the client cached for cfg.ConnectionString, dialing
// it under the cache lock if this is the first request for that string.
func acquireClient(ctx context.Context, cfg Config) (*sharedClient, error) {
	connections.mu.Lock()
	defer connections.mu.Unlock()

	if shared, ok := connections.clients[cfg.ConnectionString]; ok {
		cfg.Metrics.Increment(MetricCacheHits, "cache", "clients")
		return shared, nil
	}
	cfg.Metrics.Increment(MetricCacheMisses, "cache", "clients")

	settings := newClientSettings(cfg, newCommandMonitor(cfg))
	client, err := cfg.Dialer(ctx, settings)
	if err != nil {
		return nil, WithContext(err, map[string]interface{}{
			"connection_string": redactConnectionString(cfg.ConnectionString),
		})
	}

	shared := &sharedClient{settings: settings, client: client}
	connections.clients[cfg.ConnectionString] = shared
	cfg.Metrics.Gauge(MetricSharedClients, float64(len(connections.clients)))
	cfg.Logger.Debug("shared client created",
		"connection", redactConnectionString(cfg.ConnectionString),
		"clients", len(connections.clients))
	return shared, nil
}

// resolveCollectionNames returns the names cached for key, running discovery
// at most once at a time per key. Failed discoveries are not cached.
func resolveCollectionNames(ctx context.Context, key DiscoveryKey, client Client, cfg Config) ([]string, error) {
	if names, ok := cachedCollectionNames(key); ok {
		cfg.Metrics.Increment(MetricCacheHits, "cache", "collections")
		return names, nil
	}
	cfg.Metrics.Increment(MetricCacheMisses, "cache", "collections")

	v, err, _ := collections.group.Do(key.String(), func() (interface{}, error) {
		// A concurrent flight may have finished between the read above and Do
		if names, ok := cachedCollectionNames(key); ok {
			return names, nil
		}

		names, err := discoverCollectionNames(ctx, key, client, cfg)
		if err != nil {
			return nil, err
		}

		collections.mu.Lock()
		collections.names[key] = names
		collections.mu.Unlock()
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func discoverCollectionNames(ctx context.Context, key DiscoveryKey, client Client, cfg Config) ([]string, error) {
	if cfg.DiscoveryStore != nil {
		names, ok, err := cfg.DiscoveryStore.Load(ctx, key)
		switch {
		case err != nil:
			cfg.Logger.Warn("discovery store load failed, listing collections",
				"database", key.Database,
				"error", err)
		case ok:
			cfg.Logger.Debug("collection names loaded from discovery store",
				"database", key.Database,
				"collections", len(names))
			return names, nil
		}
	}

	start := time.Now()
	cfg.Metrics.Increment(MetricDiscoveryCalls)
	names, err := client.ListCollectionNames(ctx, key.Database)
	cfg.Metrics.Timing(MetricDiscoveryDuration, time.Since(start))
	if err != nil {
		cfg.Metrics.Increment(MetricDiscoveryErrors)
		return nil, WithContext(errors.Join(ErrDiscoveryFailed, err), map[string]interface{}{
			"identity": key.Identity,
			"database": key.Database,
		})
	}
	if names == nil {
		names = []string{}
	}
	cfg.Logger.Debug("collections discovered",
		"identity", key.Identity,
		"database", key.Database,
		"collections", len(names),
		"duration", time.Since(start))

	if cfg.DiscoveryStore != nil {
		if err := cfg.DiscoveryStore.Save(ctx, key, names); err != nil {
			cfg.Logger.Warn("discovery store save failed",
				"database", key.Database,
				"error", err)
		}
	}
	return names, nil
}

func cachedCollectionNames(key DiscoveryKey) ([]string, bool) {
	collections.mu.RLock()
	defer collections.mu.RUnlock()
	names, ok := collections.names[key]
	return names, ok
}

// ResetSharedState forgets every cached client and collection-name entry
// without disconnecting the clients. Intended for test isolation.
func ResetSharedState() {
	connections.mu.Lock()
	connections.clients = make(map[string]*sharedClient)
	connections.mu.Unlock()

	collections.mu.Lock()
	collections.names = make(map[DiscoveryKey][]string)
	collections.mu.Unlock()
}

// CloseSharedClients disconnects every cached client and empties the
// connection cache. Call it once at process shutdown, after every Context is
// closed. Collection names stay cached.
func CloseSharedClients(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, disconnectTimeout)
		defer cancel()
	}

	connections.mu.Lock()
	clients := connections.clients
	connections.clients = make(map[string]*sharedClient)
	connections.mu.Unlock()

	var errs []error
	for _, shared := range clients {
		if err := shared.client.Disconnect(ctx); err != nil {
			errs = append(errs, WithContext(err, map[string]interface{}{
				"connection_string": redactConnectionString(shared.settings.ConnectionString),
			}))
		}
	}
	return errors.Join(errs...)
}

// sharedClientCount reports the size of the connection cache
func sharedClientCount() int {
	connections.mu.Lock()
	defer connections.mu.Unlock()
	return len(connections.clients)
}
