package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// IssuanceGuard implements ports.IssuanceGuard using Redis SET NX. It is the
// fast-path exactly-once marker for quote issuance; the quote-state CAS and
// the proof-store unique constraint back it up.
type IssuanceGuard struct {
	client *goredis.Client
	prefix string
}

// NewIssuanceGuard creates a new Redis-backed issuance guard.
func NewIssuanceGuard(client *goredis.Client) *IssuanceGuard {
	return &IssuanceGuard{
		client: client,
		prefix: "issuance:",
	}
}

// Acquire atomically claims a quote for issuance. Returns true when this
// caller is first, false when issuance was already claimed.
func (g *IssuanceGuard) Acquire(ctx context.Context, quoteID string, ttl time.Duration) (bool, error) {
	result, err := g.client.SetArgs(ctx, g.prefix+quoteID, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists, issuance already claimed
			return false, nil
		}
		return false, fmt.Errorf("redis issuance acquire: %w", err)
	}
	return result == "OK", nil
}

// Release frees the claim after a failed issuance so it can be retried.
func (g *IssuanceGuard) Release(ctx context.Context, quoteID string) error {
	if err := g.client.Del(ctx, g.prefix+quoteID).Err(); err != nil {
		return fmt.Errorf("redis issuance release: %w", err)
	}
	return nil
}
