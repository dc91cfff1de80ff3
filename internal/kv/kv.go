package kv

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to the kv store used for rate counters, bans and
// websocket channel ownership. All keys written here carry explicit TTLs.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse kv url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping kv store: %w", err)
	}

	log.Printf("[kv] Connected to Redis")
	return client, nil
}
