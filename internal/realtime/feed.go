package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Op is the kind of write a Change describes.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Change announces that a record in a collection was written. Fields carries
// the filterable fields so instances can skip unrelated subscriptions.
type Change struct {
	Collection string            `json:"collection"`
	RecordID   string            `json:"recordId"`
	Op         Op                `json:"op"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Feed carries Changes between writers and every layer instance.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	// Listen registers onChange and returns once the feed is receiving.
	Listen(ctx context.Context, onChange func(Change)) error
}

// LocalFeed fans changes out in-process. Delivery is synchronous.
type LocalFeed struct {
	mu        sync.RWMutex
	listeners []func(Change)
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{}
}

func (f *LocalFeed) Publish(_ context.Context, change Change) error {
	f.mu.RLock()
	listeners := append([]func(Change){}, f.listeners...)
	f.mu.RUnlock()
	for _, l := range listeners {
		l(change)
	}
	return nil
}

func (f *LocalFeed) Listen(_ context.Context, onChange func(Change)) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback required")
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, onChange)
	f.mu.Unlock()
	return nil
}

// RedisFeed publishes changes as JSON on a Redis pub/sub channel so that
// every API instance refreshes its subscriptions.
type RedisFeed struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

func NewRedisFeed(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisFeed {
	if channel == "" {
		channel = "commerce:changes"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, channel: channel, logger: logger.With(zap.String("component", "redis_feed"))}
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	raw, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Listen(ctx context.Context, onChange func(Change)) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback required")
	}

	sub := f.client.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				change, err := decodeChange(m.Payload)
				if err != nil {
					f.logger.Warn("bad change payload", zap.Error(err))
					continue
				}
				onChange(change)
			}
		}
	}()
	return nil
}

func decodeChange(payload string) (Change, error) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return Change{}, err
	}
	if change.Collection == "" {
		return Change{}, fmt.Errorf("change without collection")
	}
	return change, nil
}
