package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "mailroom:cache"

type busMessage struct {
	Origin string `json:"origin"`
	Keys   []Key  `json:"keys"`
}

// Bus shares invalidations between processes over Redis pub/sub so that a
// CLI command invalidating a key also refreshes a running server.
type Bus struct {
	rdb     *goredis.Client
	channel string
	origin  string
	log     *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
func NewBus(ctx context.Context, addr, channel string, log *zap.Logger) (*Bus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("cache bus: redis address required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache bus: redis ping: %w", err)
	}

	return &Bus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log.Named("cache.bus").With(zap.String("channel", channel)),
	}, nil
}

// Publish sends keys to the other processes.
func (b *Bus) Publish(ctx context.Context, keys []Key) error {
	raw, err := encodeMessage(b.origin, keys)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Attach publishes every local invalidation of c and applies every remote
// one to it until ctx is done.
func (b *Bus) Attach(ctx context.Context, c *Cache) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("cache bus: subscribe: %w", err)
	}

	c.OnInvalidate(func(ev Event) {
		if ev.Remote {
			return
		}
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.Publish(pubCtx, ev.Keys); err != nil {
			b.log.Warn("publish failed", zap.Error(err))
		}
	})

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				keys, own, err := decodeMessage(b.origin, m.Payload)
				if err != nil {
					b.log.Warn("bad payload", zap.Error(err))
					continue
				}
				if own || len(keys) == 0 {
					continue
				}
				c.ApplyRemote(keys)
			}
		}
	}()
	return nil
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func encodeMessage(origin string, keys []Key) ([]byte, error) {
	return json.Marshal(busMessage{Origin: origin, Keys: keys})
}

func decodeMessage(origin, payload string) (keys []Key, own bool, err error) {
	var msg busMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, false, err
	}
	return msg.Keys, msg.Origin == origin, nil
}
