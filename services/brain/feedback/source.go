// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Pub/Sub channel feedback is published on.
const DefaultChannel = "feedback_channel"

// Message is one raw feedback payload.
type Message struct {
	Payload    []byte
	Channel    string
	ReceivedAt time.Time
}

// Source delivers feedback messages. The returned channel is closed when
// the source ends or ctx is done.
type Source interface {
	Messages(ctx context.Context) (<-chan Message, error)
	Name() string
}

// ChanSource adapts an in-process channel of payloads to Source.
type ChanSource struct {
	payloads <-chan []byte
}

// NewChanSource wraps payloads.
func NewChanSource(payloads <-chan []byte) *ChanSource {
	return &ChanSource{payloads: payloads}
}

// Name implements Source.
func (s *ChanSource) Name() string { return "in-process" }

// Messages implements Source.
func (s *ChanSource) Messages(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-s.payloads:
				if !ok {
					return
				}
				select {
				case out <- Message{Payload: p, Channel: s.Name(), ReceivedAt: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0").
	URL string

	// Channel to subscribe to. Default: "feedback_channel".
	Channel string

	// ConnectTimeout bounds the initial ping. Default: 5s.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// RedisSource receives feedback over Redis Pub/Sub.
//
// Pub/Sub delivery is at-most-once: messages published while no subscriber
// is connected are lost. Actions are idempotent, so a publisher may resend.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisSource connects to Redis and verifies the connection.
func NewRedisSource(opts RedisOptions) (*RedisSource, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379/0"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSourceFromClient(client, opts.Channel, opts.Logger), nil
}

// NewRedisSourceFromClient wraps an existing client.
func NewRedisSourceFromClient(client *redis.Client, channel string, logger *slog.Logger) *RedisSource {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{client: client, channel: channel, logger: logger}
}

// Name implements Source.
func (s *RedisSource) Name() string { return "redis:" + s.channel }

// Messages subscribes to the channel.
func (s *RedisSource) Messages(ctx context.Context) (<-chan Message, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", s.channel, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					s.logger.Warn("redis subscription closed", slog.String("channel", s.channel))
					return
				}
				select {
				case out <- Message{Payload: []byte(msg.Payload), Channel: msg.Channel, ReceivedAt: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish sends a raw feedback payload to the channel.
func (s *RedisSource) Publish(ctx context.Context, payload []byte) (int64, error) {
	n, err := s.client.Publish(ctx, s.channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to channel %s: %w", s.channel, err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (s *RedisSource) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
