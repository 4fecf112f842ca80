package cache

import (
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// EmbeddedCache is a RedisCache served by an in-process miniredis instance.
// It is used when no redis address is configured, so state survives only
// as long as the daemon.
type EmbeddedCache struct {
	*RedisCache
	server *miniredis.Miniredis
}

// NewEmbeddedCache starts an in-process redis server and connects to it.
func NewEmbeddedCache() (*EmbeddedCache, error) {
	server, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("start embedded redis: %w", err)
	}
	rc, err := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	if err != nil {
		server.Close()
		return nil, err
	}
	return &EmbeddedCache{RedisCache: rc, server: server}, nil
}

// Close closes the client and stops the embedded server.
func (e *EmbeddedCache) Close() error {
	err := e.RedisCache.Close()
	e.server.Close()
	return err
}
