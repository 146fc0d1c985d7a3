// Package consumer turns external redis messages into bus commands.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/yungbote/allocation/internal/domain/allocation"
	"github.com/yungbote/allocation/internal/message"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

const DefaultChangeQuantityChannel = "change_batch_quantity"

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, onMsg func(ctx context.Context, payload []byte)) error
}

type Dispatcher interface {
	Handle(ctx context.Context, msg message.Message) (any, error)
}

type Consumer struct {
	sub     Subscriber
	bus     Dispatcher
	log     *logger.Logger
	channel string
}

func New(sub Subscriber, bus Dispatcher, baseLog *logger.Logger, channel string) (*Consumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	if bus == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChangeQuantityChannel
	}
	return &Consumer{
		sub:     sub,
		bus:     bus,
		log:     baseLog.With("component", "RedisConsumer", "channel", channel),
		channel: channel,
	}, nil
}

// Run subscribes and blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.sub.Subscribe(ctx, c.channel, c.HandlePayload); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

type changeQuantityPayload struct {
	BatchRef string `json:"batchref"`
	Qty      *int   `json:"qty"`
}

// HandlePayload dispatches one raw message. Bad payloads and handler errors are
// logged; the subscription keeps going.
func (c *Consumer) HandlePayload(ctx context.Context, payload []byte) {
	var in changeQuantityPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		c.log.Warn("dropping malformed payload", "error", err, "bytes", len(payload))
		return
	}
	ref := strings.TrimSpace(in.BatchRef)
	if ref == "" || in.Qty == nil || *in.Qty < 0 {
		c.log.Warn("dropping invalid payload", "batchref", ref, "has_qty", in.Qty != nil)
		return
	}
	cmd := domain.ChangeBatchQuantity{Ref: ref, Qty: *in.Qty}
	c.log.Debug("change quantity received", "batchref", cmd.Ref, "qty", cmd.Qty)
	if _, err := c.bus.Handle(ctx, cmd); err != nil {
		c.log.Error("change quantity failed", "batchref", cmd.Ref, "qty", cmd.Qty, "error", err)
	}
}
