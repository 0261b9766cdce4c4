// Package lease implements cross-process mutual exclusion over individual
// blobs. A lease is an ephemeral redis key with a TTL: acquisition is a single
// atomic SET NX PX, release is a compare-and-delete so a worker can only drop
// a lease it still owns. A crashed worker's lease expires on its own.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NotAcquiredReason classifies why a lease was not obtained. Contention is the
// normal case when several workers race for the same small set of files.
type NotAcquiredReason string

const (
	ReasonAlreadyLeased      NotAcquiredReason = "ALREADY_LEASED"
	ReasonBackendUnavailable NotAcquiredReason = "BACKEND_UNAVAILABLE"
)

// releaseScript deletes the lease key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Client is the subset of the redis API the coordinator needs.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Coordinator acquires and releases time-bounded exclusive claims on blobs.
type Coordinator struct {
	client Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCoordinator builds a coordinator with the given lease TTL.
func NewCoordinator(client Client, ttl time.Duration, logger *zap.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{client: client, ttl: ttl, logger: logger}
}

// Acquire attempts to claim the blob. It returns the opaque lease token on
// success; ok=false means another worker holds the lease. Only backend
// failures surface as errors.
func (c *Coordinator) Acquire(ctx context.Context, container, name string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, leaseKey(container, name), token, c.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s/%s: %w", container, name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lease if the token still owns it. Releasing an expired or
// stolen lease is a no-op.
func (c *Coordinator) Release(ctx context.Context, container, name, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{leaseKey(container, name)}, token).Err(); err != nil {
		return fmt.Errorf("release lease %s/%s: %w", container, name, err)
	}
	return nil
}

// WithLease runs onAcquired while holding the lease on the blob. When
// releaseAfter is false the lease is left to expire, which keeps other
// workers away from a blob that was just deleted. Failure to acquire invokes
// onNotAcquired with a classified reason and never returns an error: absence
// of a lease means another worker owns the file, or nothing needs doing.
func (c *Coordinator) WithLease(ctx context.Context, container, name string, releaseAfter bool, onAcquired func(token string) error, onNotAcquired func(reason NotAcquiredReason)) error {
	token, ok, err := c.Acquire(ctx, container, name)
	if err != nil {
		c.logger.Warn("lease backend unavailable",
			zap.String("container", container),
			zap.String("blob", name),
			zap.Error(err),
		)
		if onNotAcquired != nil {
			onNotAcquired(ReasonBackendUnavailable)
		}
		return nil
	}
	if !ok {
		if onNotAcquired != nil {
			onNotAcquired(ReasonAlreadyLeased)
		}
		return nil
	}

	defer func() {
		if !releaseAfter {
			return
		}
		if err := c.Release(ctx, container, name, token); err != nil {
			c.logger.Warn("failed to release lease",
				zap.String("container", container),
				zap.String("blob", name),
				zap.Error(err),
			)
		}
	}()

	return onAcquired(token)
}

func leaseKey(container, name string) string {
	return fmt.Sprintf("lease:%s:%s", container, name)
}
