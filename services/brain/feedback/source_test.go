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
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisSource creates a miniredis instance and a connected source.
func setupRedisSource(t *testing.T) *RedisSource {
	t.Helper()

	mr := miniredis.RunT(t)
	src, err := NewRedisSource(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = src.Close()
	})
	return src
}

func TestNewRedisSource(t *testing.T) {
	t.Run("default channel", func(t *testing.T) {
		src := setupRedisSource(t)
		assert.Equal(t, "redis:"+DefaultChannel, src.Name())
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisSource(RedisOptions{
			URL:            "redis://localhost:1",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisSource(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestRedisSource_PublishSubscribe(t *testing.T) {
	src := setupRedisSource(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := src.Messages(ctx)
	require.NoError(t, err)

	payload := []byte(`{"action": "add_node", "node": {"id": "a"}}`)
	n, err := src.Publish(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case msg := <-msgs:
		assert.Equal(t, payload, msg.Payload)
		assert.Equal(t, DefaultChannel, msg.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-msgs
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisSource_DrivesMutator(t *testing.T) {
	src := setupRedisSource(t)
	store := newSeededStore(t)
	m := NewMutator(store, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx, src) }()

	// Wait until the subscription is live before publishing.
	require.Eventually(t, func() bool {
		n, err := src.Publish(ctx, []byte(`{"actions": [
			{"action": "add_node", "node": {"id": "hydration_low", "type": "Biological"}},
			{"action": "add_edge", "edge": {"source": "hydration_low", "target": "executive_fatigue", "relation": "TRIGGERS"}}
		]}`))
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return store.Load(ctx).HasEdge("hydration_low", "executive_fatigue", "TRIGGERS")
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-errCh)
}
