package redisbus

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/yungbote/allocation/internal/pkg/logger"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}
	c, err := New(logger.Nop(), Config{Addr: addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	channel := "test_" + time.Now().UTC().Format("150405.000000000")
	got := make(chan map[string]any, 1)
	err = c.Subscribe(ctx, channel, func(ctx context.Context, payload []byte) {
		var m map[string]any
		if json.Unmarshal(payload, &m) == nil {
			got <- m
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Publish(ctx, channel, map[string]any{"batchref": "b1", "qty": 3}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case m := <-got:
		if m["batchref"] != "b1" {
			t.Fatalf("payload: %v", m)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(logger.Nop(), Config{}); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
}
