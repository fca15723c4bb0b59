// Package notifier publishes ban events to Redis so that tooling outside
// the process (edge firewalls, dashboards) can react to them. The gate never
// reads this data back; it is an outbound feed, not a ban store.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"gatekeeper/internal/models"
	"gatekeeper/pkg/utils"
)

// Config holds the notifier settings.
type Config struct {
	// URL is either a redis:// URL or a bare host:port address.
	URL       string
	Channel   string
	KeyPrefix string
	QueueSize int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		URL:       "localhost:6379",
		Channel:   "gatekeeper:bans",
		KeyPrefix: "ban:",
		QueueSize: 1024,
		Timeout:   2 * time.Second,
	}
}

// RedisNotifier mirrors active bans as "<prefix><client>" keys that expire
// with the ban and publishes every event as JSON on a channel. Delivery is
// asynchronous and best-effort.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	cb      *gobreaker.CircuitBreaker

	queue chan models.BanEvent
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func New(cfg Config) (*RedisNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	def := DefaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opt = &redis.Options{Addr: cfg.URL}
	}

	n := &RedisNotifier{
		rdb:     redis.NewClient(opt),
		channel: cfg.Channel,
		prefix:  cfg.KeyPrefix,
		timeout: cfg.Timeout,
		logger:  logger,
		queue:   make(chan models.BanEvent, cfg.QueueSize),
	}
	n.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-notifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	n.wg.Add(1)
	go n.worker()

	return n, nil
}

// Ping checks connectivity.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.rdb.Ping(ctx).Err()
}

// Notify queues an event. When the queue is full the event is dropped.
func (n *RedisNotifier) Notify(e models.BanEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		utils.NotifierEventsTotal.WithLabelValues(string(e.Type), "dropped").Inc()
		return
	}

	select {
	case n.queue <- e:
	default:
		utils.NotifierEventsTotal.WithLabelValues(string(e.Type), "dropped").Inc()
		n.logger.Warn("notifier queue full, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("client", e.ClientID),
		)
	}
}

func (n *RedisNotifier) worker() {
	defer n.wg.Done()

	for e := range n.queue {
		if err := n.deliver(e); err != nil {
			utils.NotifierEventsTotal.WithLabelValues(string(e.Type), "failed").Inc()
			n.logger.Warn("failed to publish ban event",
				zap.String("type", string(e.Type)),
				zap.String("client", e.ClientID),
				zap.Error(err),
			)
			continue
		}
		utils.NotifierEventsTotal.WithLabelValues(string(e.Type), "delivered").Inc()
	}
}

func (n *RedisNotifier) deliver(e models.BanEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = n.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		key := n.prefix + e.ClientID
		pipe := n.rdb.TxPipeline()
		switch e.Type {
		case models.EventBanned:
			if ttl := e.ExpiresAt.Sub(e.At); ttl > 0 {
				pipe.Set(ctx, key, e.ExpiresAt.UTC().Format(time.RFC3339Nano), ttl)
			}
		case models.EventLifted:
			pipe.Del(ctx, key)
		}
		pipe.Publish(ctx, n.channel, payload)

		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// Close drains queued events and closes the Redis client.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
	return n.rdb.Close()
}
