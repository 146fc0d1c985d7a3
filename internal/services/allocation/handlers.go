// Package allocation implements the command and event handlers of the allocation service.
package allocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/allocation/internal/data/uow"
	domain "github.com/yungbote/allocation/internal/domain/allocation"
	"github.com/yungbote/allocation/internal/messagebus"
	"github.com/yungbote/allocation/internal/notifications"
	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/redisbus"
)

const DefaultAllocatedChannel = "line_allocated"

type Deps struct {
	// Publisher is optional; without it Allocated events are not published externally.
	Publisher           redisbus.Publisher
	Notifications       notifications.Sender
	Log                 *logger.Logger
	AllocatedChannel    string
	OutOfStockRecipient string
}

// Handlers holds the static dependencies shared by every handler. The per-invocation
// unit of work is passed in by the bus.
type Handlers struct {
	publisher        redisbus.Publisher
	notifications    notifications.Sender
	log              *logger.Logger
	allocatedChannel string
	recipient        string
}

func NewHandlers(deps Deps) (*Handlers, error) {
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notifications sender required")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	channel := strings.TrimSpace(deps.AllocatedChannel)
	if channel == "" {
		channel = DefaultAllocatedChannel
	}
	return &Handlers{
		publisher:        deps.Publisher,
		notifications:    deps.Notifications,
		log:              deps.Log.With("service", "AllocationHandlers"),
		allocatedChannel: channel,
		recipient:        strings.TrimSpace(deps.OutOfStockRecipient),
	}, nil
}

// Register binds every handler in its documented order.
func (h *Handlers) Register(b *messagebus.RegistryBuilder) {
	messagebus.OnCommand(b, "add_batch", h.AddBatch)
	messagebus.OnCommand(b, "allocate", h.Allocate)
	messagebus.OnCommand(b, "change_batch_quantity", h.ChangeBatchQuantity)

	messagebus.OnEvent(b, "change_batch_quantity", h.BatchQuantityChanged)
	messagebus.OnEvent(b, "publish_allocated_event", h.PublishAllocatedEvent)
	messagebus.OnEvent(b, "add_allocation_to_read_model", h.AddAllocationToReadModel)
	messagebus.OnEvent(b, "remove_allocation_from_read_model", h.RemoveAllocationFromReadModel)
	messagebus.OnEvent(b, "reallocate", h.Reallocate)
	messagebus.OnEvent(b, "send_out_of_stock_notification", h.SendOutOfStockNotification)
}

// AddBatch creates the product on first sight. A redelivered batch is skipped.
func (h *Handlers) AddBatch(ctx context.Context, u uow.UnitOfWork, cmd domain.CreateBatch) (messagebus.Outcome, error) {
	const op = "allocation.AddBatch"
	out := messagebus.Done(nil)
	err := u.InTx(ctx, func(tx uow.Tx) error {
		repo := tx.Products()
		owner, err := repo.GetByBatchRef(ctx, cmd.Ref)
		if err != nil {
			return err
		}
		if owner != nil {
			if owner.SKU != cmd.SKU {
				return domain.NewError(domain.CodeDuplicateBatch, op,
					fmt.Sprintf("batch %s already belongs to %s", cmd.Ref, owner.SKU), domain.ErrDuplicateBatch)
			}
			out = messagebus.Skip(fmt.Sprintf("batch %s already exists", cmd.Ref))
			return nil
		}

		p, err := repo.Get(ctx, cmd.SKU)
		if err != nil {
			return err
		}
		if p == nil {
			p = domain.NewProduct(cmd.SKU, nil, 0)
			if err := repo.Add(ctx, p); err != nil {
				return err
			}
		}
		if err := p.AddBatch(domain.NewBatch(cmd.Ref, cmd.SKU, cmd.Qty, cmd.ETA)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return messagebus.Outcome{}, err
	}
	return out, nil
}

// Allocate returns the chosen batch reference, or "" when the product is out of stock.
func (h *Handlers) Allocate(ctx context.Context, u uow.UnitOfWork, cmd domain.Allocate) (messagebus.Outcome, error) {
	ref, err := h.allocate(ctx, u, domain.OrderLine{OrderID: cmd.OrderID, SKU: cmd.SKU, Qty: cmd.Qty})
	if err != nil {
		return messagebus.Outcome{}, err
	}
	return messagebus.Done(ref), nil
}

// Reallocate places a deallocated line again, in its own unit of work.
func (h *Handlers) Reallocate(ctx context.Context, u uow.UnitOfWork, evt domain.Deallocated) (messagebus.Outcome, error) {
	ref, err := h.allocate(ctx, u, domain.OrderLine{OrderID: evt.OrderID, SKU: evt.SKU, Qty: evt.Qty})
	if err != nil {
		return messagebus.Outcome{}, err
	}
	return messagebus.Done(ref), nil
}

func (h *Handlers) allocate(ctx context.Context, u uow.UnitOfWork, line domain.OrderLine) (string, error) {
	var ref string
	err := u.InTx(ctx, func(tx uow.Tx) error {
		p, err := tx.Products().Get(ctx, line.SKU)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.InvalidSKU("allocation.Allocate", line.SKU)
		}
		ref = p.Allocate(line)
		return tx.Commit()
	})
	return ref, err
}

func (h *Handlers) ChangeBatchQuantity(ctx context.Context, u uow.UnitOfWork, cmd domain.ChangeBatchQuantity) (messagebus.Outcome, error) {
	return h.changeBatchQuantity(ctx, u, cmd.Ref, cmd.Qty)
}

// BatchQuantityChanged applies a quantity change reported as an event.
func (h *Handlers) BatchQuantityChanged(ctx context.Context, u uow.UnitOfWork, evt domain.BatchQuantityChanged) (messagebus.Outcome, error) {
	return h.changeBatchQuantity(ctx, u, evt.Ref, evt.Qty)
}

func (h *Handlers) changeBatchQuantity(ctx context.Context, u uow.UnitOfWork, ref string, qty int) (messagebus.Outcome, error) {
	err := u.InTx(ctx, func(tx uow.Tx) error {
		p, err := tx.Products().GetByBatchRef(ctx, ref)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.UnknownBatch("allocation.ChangeBatchQuantity", ref)
		}
		if err := p.ChangeBatchQuantity(ref, qty); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return messagebus.Outcome{}, err
	}
	return messagebus.Done(nil), nil
}

func (h *Handlers) PublishAllocatedEvent(ctx context.Context, _ uow.UnitOfWork, evt domain.Allocated) (messagebus.Outcome, error) {
	if h.publisher == nil {
		return messagebus.Skip("no external publisher configured"), nil
	}
	if err := h.publisher.Publish(ctx, h.allocatedChannel, evt); err != nil {
		return messagebus.Outcome{}, fmt.Errorf("publish %s to %s: %w", evt.MessageType(), h.allocatedChannel, err)
	}
	return messagebus.Done(nil), nil
}

func (h *Handlers) AddAllocationToReadModel(ctx context.Context, u uow.UnitOfWork, evt domain.Allocated) (messagebus.Outcome, error) {
	err := u.InTx(ctx, func(tx uow.Tx) error {
		if err := tx.Allocations().Add(ctx, evt.OrderID, evt.SKU, evt.BatchRef); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return messagebus.Outcome{}, err
	}
	return messagebus.Done(nil), nil
}

func (h *Handlers) RemoveAllocationFromReadModel(ctx context.Context, u uow.UnitOfWork, evt domain.Deallocated) (messagebus.Outcome, error) {
	err := u.InTx(ctx, func(tx uow.Tx) error {
		if err := tx.Allocations().Remove(ctx, evt.OrderID, evt.SKU); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return messagebus.Outcome{}, err
	}
	return messagebus.Done(nil), nil
}

func (h *Handlers) SendOutOfStockNotification(ctx context.Context, _ uow.UnitOfWork, evt domain.OutOfStock) (messagebus.Outcome, error) {
	if h.recipient == "" {
		return messagebus.Skip("no out-of-stock recipient configured"), nil
	}
	if err := h.notifications.Send(ctx, h.recipient, fmt.Sprintf("Out of stock for %s", evt.SKU)); err != nil {
		return messagebus.Outcome{}, err
	}
	return messagebus.Done(nil), nil
}
