// Package session tracks signed-out admin tokens in Redis so a token stops
// working before its expiry.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kiritara:revoked:"

// Revocations keeps one key per revoked token id, expiring with the token.
type Revocations struct {
	client *redis.Client
}

// NewRevocations shares the client used by the change hub.
func NewRevocations(client *redis.Client) *Revocations {
	return &Revocations{client: client}
}

// RevokeToken marks jti as revoked until expiresAt. A token already past
// expiresAt is rejected by signature checks alone and is not stored.
func (r *Revocations) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, keyPrefix+jti, expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *Revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}
