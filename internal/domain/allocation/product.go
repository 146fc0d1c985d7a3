// Package allocation holds the Product aggregate and the messages it exchanges.
//
// A Product is the consistency boundary for every batch of one sku. Mutations queue
// events on the product; the unit of work drains them after each handler invocation.
package allocation

import (
	"fmt"
	"sort"

	"github.com/yungbote/allocation/internal/message"
)

type Product struct {
	SKU           string
	VersionNumber int
	Batches       []*Batch

	events []message.Event
}

func NewProduct(sku string, batches []*Batch, version int) *Product {
	return &Product{
		SKU:           sku,
		VersionNumber: version,
		Batches:       append([]*Batch(nil), batches...),
	}
}

// Batch returns the batch with the given reference, or nil.
func (p *Product) Batch(ref string) *Batch {
	for _, b := range p.Batches {
		if b.Reference == ref {
			return b
		}
	}
	return nil
}

// AddBatch attaches a new batch, bumps the version and queues BatchCreated.
func (p *Product) AddBatch(b *Batch) error {
	const op = "Product.AddBatch"
	if b == nil {
		return NewError(CodeValidation, op, "batch required", nil)
	}
	if b.SKU != p.SKU {
		return NewError(CodeValidation, op, fmt.Sprintf("batch sku %s does not match product %s", b.SKU, p.SKU), nil)
	}
	if p.Batch(b.Reference) != nil {
		return NewError(CodeDuplicateBatch, op, fmt.Sprintf("batch %s already exists", b.Reference), ErrDuplicateBatch)
	}
	p.Batches = append(p.Batches, b)
	p.VersionNumber++
	p.raise(BatchCreated{Ref: b.Reference, SKU: b.SKU, Qty: b.PurchasedQuantity()})
	return nil
}

// Allocate places line in the preferred batch and returns its reference.
// When no batch can take the line it queues OutOfStock and returns "".
func (p *Product) Allocate(line OrderLine) string {
	for _, b := range p.allocationOrder() {
		if b.IsAllocated(line) {
			return b.Reference
		}
	}
	for _, b := range p.allocationOrder() {
		if !b.CanAllocate(line) {
			continue
		}
		b.allocate(line)
		p.VersionNumber++
		p.raise(Allocated{
			OrderID:  line.OrderID,
			SKU:      line.SKU,
			Qty:      line.Qty,
			BatchRef: b.Reference,
		})
		return b.Reference
	}
	p.raise(OutOfStock{SKU: line.SKU})
	return ""
}

// ChangeBatchQuantity sets the purchased quantity of batch ref and deallocates lines,
// newest first, until the batch is no longer over-allocated.
func (p *Product) ChangeBatchQuantity(ref string, qty int) error {
	b := p.Batch(ref)
	if b == nil {
		return UnknownBatch("Product.ChangeBatchQuantity", ref)
	}
	b.purchased = qty
	p.VersionNumber++
	for b.AvailableQuantity() < 0 {
		line, ok := b.deallocateOne()
		if !ok {
			break
		}
		p.raise(Deallocated{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty})
	}
	return nil
}

// PopEvent removes and returns the oldest pending event.
func (p *Product) PopEvent() (message.Event, bool) {
	if len(p.events) == 0 {
		return nil, false
	}
	evt := p.events[0]
	p.events[0] = nil
	p.events = p.events[1:]
	if len(p.events) == 0 {
		p.events = nil
	}
	return evt, true
}

func (p *Product) PendingEvents() int { return len(p.events) }

// Clone deep-copies the product state. Pending events are not copied.
func (p *Product) Clone() *Product {
	batches := make([]*Batch, 0, len(p.Batches))
	for _, b := range p.Batches {
		batches = append(batches, b.clone())
	}
	return NewProduct(p.SKU, batches, p.VersionNumber)
}

func (p *Product) raise(evt message.Event) {
	p.events = append(p.events, evt)
}

func (p *Product) allocationOrder() []*Batch {
	ordered := append([]*Batch(nil), p.Batches...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].before(ordered[j]) })
	return ordered
}
