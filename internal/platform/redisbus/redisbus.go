// Package redisbus carries external messages over redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/envutil"
)

// Publisher sends a JSON-encoded payload to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func ConfigFromEnv() Config {
	return Config{
		Addr:     envutil.String("REDIS_ADDR", ""),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	}
}

type Client struct {
	log *logger.Logger
	rdb goredis.UniversalClient
}

// New connects and pings redis.
func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(log, rdb), nil
}

func NewFromClient(log *logger.Logger, rdb goredis.UniversalClient) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{log: log.With("service", "RedisBus"), rdb: rdb}
}

func (c *Client) Redis() goredis.UniversalClient { return c.rdb }

func (c *Client) Publish(ctx context.Context, channel string, payload any) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	c.log.Debug("publishing", "channel", channel, "bytes", len(raw))
	return c.rdb.Publish(ctx, channel, raw).Err()
}

// Subscribe delivers raw payloads from channel to onMsg until ctx is done.
// It returns once the subscription is confirmed by redis.
func (c *Client) Subscribe(ctx context.Context, channel string, onMsg func(ctx context.Context, payload []byte)) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := c.rdb.Subscribe(ctx, channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	c.log.Info("subscribed", "channel", channel)

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
				onMsg(ctx, []byte(m.Payload))
			}
		}
	}()
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
