package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope wraps a packet on the Redis channel so a transport can recognise
// its own publications when Redis echoes them back.
type envelope struct {
	Origin string          `json:"origin"`
	Packet json.RawMessage `json:"packet"`
}

// RedisTransport shares packets between processes over Redis Pub/Sub.
// All traffic of an instance goes through a single namespaced channel.
// Delivery is at-most-once; there is no durable queue.
type RedisTransport struct {
	rdb          *redis.Client
	instanceName string
	origin       string

	// MaxRetries bounds publish retries before Send gives up.
	MaxRetries uint64
	// InitialInterval is the first retry delay; it grows exponentially.
	InitialInterval time.Duration

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisTransport creates a transport for the specified instance.
// Returns an error if instanceName is empty.
func NewRedisTransport(redisOpts *redis.Options, instanceName string) (*RedisTransport, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &RedisTransport{
		rdb:             redis.NewClient(redisOpts),
		instanceName:    instanceName,
		origin:          uuid.New().String(),
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
	}, nil
}

// NewRedisTransportFromURL parses a redis:// URL and creates a transport.
func NewRedisTransportFromURL(redisURL, instanceName string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewRedisTransport(opts, instanceName)
}

func (t *RedisTransport) Name() string { return "redis" }

// Channel returns the channel this transport publishes on.
func (t *RedisTransport) Channel() string {
	return PacketsChannel(t.instanceName)
}

// Open verifies connectivity, subscribes to the instance channel and starts
// forwarding packets from other processes to deliver.
func (t *RedisTransport) Open(ctx context.Context, deliver func([]byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pubsub != nil {
		return nil
	}

	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping failed: %v", ErrTransportUnavailable, err)
	}

	pubsub := t.rdb.Subscribe(ctx, t.Channel())

	// Wait for the subscription confirmation so that nothing published after
	// Open returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("%w: failed to subscribe to %s: %v", ErrTransportUnavailable, t.Channel(), err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("[Bus] WARNING: discarding malformed message on %s: %v", msg.Channel, err)
					continue
				}
				if env.Origin == t.origin {
					continue
				}

				deliver(env.Packet)
			}
		}
	}()

	t.pubsub = pubsub
	t.cancel = cancel
	t.done = done
	return nil
}

// Send publishes data, retrying with exponential backoff on failure.
func (t *RedisTransport) Send(ctx context.Context, data []byte) error {
	payload, err := json.Marshal(envelope{Origin: t.origin, Packet: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.InitialInterval

	operation := func() error {
		return t.rdb.Publish(ctx, t.Channel(), payload).Err()
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, t.MaxRetries), ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", t.Channel(), err)
	}
	return nil
}

// Ping verifies Redis connectivity. Useful for health checks.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

// Close stops the subscription and closes the Redis connection.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	pubsub, cancel, done := t.pubsub, t.cancel, t.done
	t.pubsub = nil
	t.mu.Unlock()

	if pubsub != nil {
		cancel()
		pubsub.Close()
		<-done
	}
	return t.rdb.Close()
}
