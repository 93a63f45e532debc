package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyListGeneration = "gymdesk:cache:gen:%s:%s"

// Generations hands out a per-(tenant, resource) version number. Bumping it makes
// every cached listing built under the previous number unreachable. When a redis
// client is configured the counter is shared across replicas.
type Generations struct {
	mu     sync.Mutex
	local  map[string]int64
	client *redis.Client
	log    *zap.Logger
}

func NewGenerations(client *redis.Client, log *zap.Logger) *Generations {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generations{
		local:  make(map[string]int64),
		client: client,
		log:    log.Named("cache.generations"),
	}
}

// Current returns the generation used to key new cache entries.
func (g *Generations) Current(ctx context.Context, tenantID snowflake.ID, resource string) int64 {
	key := fmt.Sprintf(keyListGeneration, tenantID.String(), resource)
	if g.client != nil {
		v, err := g.client.Get(ctx, key).Int64()
		if err == nil {
			return v
		}
		if !errors.Is(err, redis.Nil) {
			g.log.Warn("read generation from redis", zap.String("key", key), zap.Error(err))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.local[key]
}

// Bump invalidates every cached entry for the tenant and resource.
func (g *Generations) Bump(ctx context.Context, tenantID snowflake.ID, resource string) error {
	key := fmt.Sprintf(keyListGeneration, tenantID.String(), resource)

	g.mu.Lock()
	g.local[key]++
	g.mu.Unlock()

	if g.client == nil {
		return nil
	}
	if err := g.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("bump generation %s: %w", key, err)
	}
	return nil
}
