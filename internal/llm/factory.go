package llm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultClientCacheSize = 16
	defaultClientCacheTTL  = 30 * time.Minute
)

// Factory constructs model clients keyed on provider configuration.
//
// Variant selection is by composition: the factory returns a Client
// implementation chosen from the config's provider value, never an
// inheritance hierarchy.
type Factory struct {
	mu            sync.Mutex
	cache         *lru.Cache[string, cacheEntry]
	cacheTTL      time.Duration
	usageCallback UsageCallback
}

type cacheEntry struct {
	client    Client
	expiresAt time.Time
}

// NewFactory creates a client factory with a bounded client cache.
func NewFactory() *Factory {
	return &Factory{
		cache:    newClientCache(defaultClientCacheSize),
		cacheTTL: defaultClientCacheTTL,
	}
}

func newClientCache(size int) *lru.Cache[string, cacheEntry] {
	if size <= 0 {
		return nil
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil
	}
	return cache
}

// SetUsageCallback registers a callback applied to every client the
// factory constructs from now on.
func (f *Factory) SetUsageCallback(cb UsageCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageCallback = cb
}

// SetCacheOptions configures the client cache. A size <= 0 disables
// caching; a TTL <= 0 disables expiration.
func (f *Factory) SetCacheOptions(size int, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = newClientCache(size)
	f.cacheTTL = ttl
}

// Client returns a client for the given config, reusing a cached
// instance when one exists for the same provider/model/endpoint.
func (f *Factory) Client(config Config) (Client, error) {
	key := cacheKey(config)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache != nil {
		if entry, ok := f.cache.Get(key); ok {
			if f.cacheTTL <= 0 || time.Now().Before(entry.expiresAt) {
				return entry.client, nil
			}
			f.cache.Remove(key)
		}
	}

	client, err := f.build(config)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.Add(key, cacheEntry{
			client:    client,
			expiresAt: time.Now().Add(f.cacheTTL),
		})
	}
	return client, nil
}

func (f *Factory) build(config Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "openai", "":
		client := NewOpenAIClient(config)
		if f.usageCallback != nil {
			if c, ok := client.(*openAIClient); ok {
				c.SetUsageCallback(f.usageCallback)
			}
		}
		return client, nil
	case "mock":
		return NewMockClient(config.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", config.Provider)
	}
}

func cacheKey(config Config) string {
	return strings.Join([]string{config.Provider, config.Model, config.BaseURL}, "|")
}
