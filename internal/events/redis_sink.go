// Package events adapts the controller/dispatcher EventSink interfaces
// to Redis pub/sub, so an external process can observe flush and queue
// telemetry without touching the indexing path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration for the event sink.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Channel  string `yaml:"channel"`
}

// RedisSink publishes events as JSON to one Redis channel. Emit never
// blocks the indexing path on Redis: publish failures are logged, not
// propagated, and each attempt is bounded by a short timeout.
type RedisSink struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

// NewRedisSink connects to Redis and returns a sink publishing to
// cfg.Channel.
func NewRedisSink(cfg Config, log *slog.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("events: connect to redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "indexer.events"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisSink{rdb: rdb, channel: channel, log: log}, nil
}

// Emit publishes event with payload as a JSON envelope. Failures are
// logged and swallowed, matching the fire-and-forget contract both C7
// and C9 expect of an EventSink.
func (s *RedisSink) Emit(event string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
	})
	if err != nil {
		s.log.Warn("events: marshal failed", "event", event, "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, s.channel, body).Err(); err != nil {
		s.log.Warn("events: publish failed", "event", event, "error", err)
	}
}

// Close releases the underlying Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

// Sink is the minimal interface both the controller and dispatcher
// expect of an event sink.
type Sink interface {
	Emit(event string, payload map[string]any)
}

// Fanout broadcasts one Emit call to every wired sink, so Redis
// pub/sub and Prometheus can both observe the same event stream.
type Fanout []Sink

// Emit calls every sink in order.
func (f Fanout) Emit(event string, payload map[string]any) {
	for _, s := range f {
		s.Emit(event, payload)
	}
}
