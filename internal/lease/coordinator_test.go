package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// leaseClientStub emulates the handful of redis commands the coordinator
// uses against an in-memory key set.
type leaseClientStub struct {
	mu     sync.Mutex
	keys   map[string]string
	broken bool
}

func newLeaseClientStub() *leaseClientStub {
	return &leaseClientStub{keys: make(map[string]string)}
}

func (s *leaseClientStub) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	if _, exists := s.keys[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	s.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (s *leaseClientStub) compareAndDelete(keys []string, args ...interface{}) *redis.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.keys[keys[0]]; ok && current == args[0].(string) {
		delete(s.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (s *leaseClientStub) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.compareAndDelete(keys, args...)
}

func (s *leaseClientStub) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.compareAndDelete(keys, args...)
}

func (s *leaseClientStub) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.compareAndDelete(keys, args...)
}

func (s *leaseClientStub) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.compareAndDelete(keys, args...)
}

func (s *leaseClientStub) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (s *leaseClientStub) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func TestAcquireIsExclusive(t *testing.T) {
	stub := newLeaseClientStub()
	coord := NewCoordinator(stub, time.Minute, nil)
	ctx := context.Background()

	token, ok, err := coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	stub := newLeaseClientStub()
	coord := NewCoordinator(stub, time.Minute, nil)
	ctx := context.Background()

	token, ok, err := coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, coord.Release(ctx, "probate", "a.zip", token))

	_, ok, err = coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseIgnoresForeignToken(t *testing.T) {
	stub := newLeaseClientStub()
	coord := NewCoordinator(stub, time.Minute, nil)
	ctx := context.Background()

	_, ok, err := coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, coord.Release(ctx, "probate", "a.zip", "someone-elses-token"))

	// Lease must still be held.
	_, ok, err = coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithLeaseRunsCallbackAndReleases(t *testing.T) {
	stub := newLeaseClientStub()
	coord := NewCoordinator(stub, time.Minute, nil)
	ctx := context.Background()

	var seen string
	err := coord.WithLease(ctx, "probate", "a.zip", true, func(token string) error {
		seen = token
		return nil
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, seen)

	_, ok, err := coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWithLeaseContention(t *testing.T) {
	stub := newLeaseClientStub()
	coord := NewCoordinator(stub, time.Minute, nil)
	ctx := context.Background()

	_, ok, err := coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.True(t, ok)

	var reason NotAcquiredReason
	ran := false
	err = coord.WithLease(ctx, "probate", "a.zip", true, func(string) error {
		ran = true
		return nil
	}, func(r NotAcquiredReason) {
		reason = r
	})
	require.NoError(t, err)
	require.False(t, ran)
	require.Equal(t, ReasonAlreadyLeased, reason)
}

func TestWithLeaseBackendFailureIsNotFatal(t *testing.T) {
	stub := newLeaseClientStub()
	stub.broken = true
	coord := NewCoordinator(stub, time.Minute, nil)

	var reason NotAcquiredReason
	err := coord.WithLease(context.Background(), "probate", "a.zip", true, func(string) error {
		t.Fatal("callback must not run")
		return nil
	}, func(r NotAcquiredReason) {
		reason = r
	})
	require.NoError(t, err)
	require.Equal(t, ReasonBackendUnavailable, reason)
}

func TestWithLeaseSkipsReleaseWhenBlobDeleted(t *testing.T) {
	stub := newLeaseClientStub()
	coord := NewCoordinator(stub, time.Minute, nil)
	ctx := context.Background()

	err := coord.WithLease(ctx, "probate", "a.zip", false, func(string) error {
		return nil
	}, nil)
	require.NoError(t, err)

	// The lease is left in place to expire on its own.
	_, ok, err := coord.Acquire(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.False(t, ok)
}
