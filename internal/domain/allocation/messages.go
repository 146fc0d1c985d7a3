package allocation

import (
	"time"

	"github.com/yungbote/allocation/internal/message"
)

// Commands

type CreateBatch struct {
	message.CommandBase
	Ref string     `json:"ref"`
	SKU string     `json:"sku"`
	Qty int        `json:"qty"`
	ETA *time.Time `json:"eta,omitempty"`
}

func (CreateBatch) MessageType() string { return "allocation.create_batch" }

type Allocate struct {
	message.CommandBase
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

func (Allocate) MessageType() string { return "allocation.allocate" }

type ChangeBatchQuantity struct {
	message.CommandBase
	Ref string `json:"batchref"`
	Qty int    `json:"qty"`
}

func (ChangeBatchQuantity) MessageType() string { return "allocation.change_batch_quantity" }

// Events

type BatchCreated struct {
	message.EventBase
	Ref string `json:"ref"`
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

func (BatchCreated) MessageType() string { return "allocation.batch_created" }

// BatchQuantityChanged is the event form of ChangeBatchQuantity, raised by upstream
// systems that report purchase corrections as facts.
type BatchQuantityChanged struct {
	message.EventBase
	Ref string `json:"batchref"`
	Qty int    `json:"qty"`
}

func (BatchQuantityChanged) MessageType() string { return "allocation.batch_quantity_changed" }

type Allocated struct {
	message.EventBase
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Qty      int    `json:"qty"`
	BatchRef string `json:"batchref"`
}

func (Allocated) MessageType() string { return "allocation.allocated" }

// Deallocated reports an order line that lost its allocation and must be re-allocated.
type Deallocated struct {
	message.EventBase
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

func (Deallocated) MessageType() string { return "allocation.deallocated" }

type OutOfStock struct {
	message.EventBase
	SKU string `json:"sku"`
}

func (OutOfStock) MessageType() string { return "allocation.out_of_stock" }
