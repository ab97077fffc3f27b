// Package testutil provides Redis-backed buses for tests.
package testutil

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/lodge/pkg/bus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Miniredis starts an in-memory Redis server that stops when the test ends.
func Miniredis(t *testing.T) (*miniredis.Miniredis, *redis.Options) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "Failed to start miniredis")
	t.Cleanup(mr.Close)

	return mr, &redis.Options{Addr: mr.Addr()}
}

// RedisBus returns an initialized bus on a Redis transport. Every call
// creates an independent process-like bus sharing the instance channel.
func RedisBus(t *testing.T, opts *redis.Options, instance string) *bus.Bus {
	t.Helper()

	transport, err := bus.NewRedisTransport(opts, instance)
	require.NoError(t, err, "Failed to create Redis transport")

	b := bus.New(transport)
	require.NoError(t, b.Initialize(context.Background()), "Failed to initialize Redis bus")
	t.Cleanup(func() { b.Close() })
	return b
}

// LocalBus returns an initialized in-process bus.
func LocalBus(t *testing.T) *bus.Bus {
	t.Helper()

	b := bus.New(bus.NewLocalTransport())
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}
