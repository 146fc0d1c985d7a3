package allocation

import "time"

// OrderLine is a customer request for qty units of sku.
type OrderLine struct {
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

// Batch is a purchased quantity of a single sku, optionally still in transit (ETA set).
// Available quantity is always derived from the purchased quantity and the allocations.
type Batch struct {
	Reference string
	SKU       string
	ETA       *time.Time

	purchased   int
	allocations []OrderLine
}

// NewBatch returns a batch with no allocations.
func NewBatch(ref, sku string, qty int, eta *time.Time) *Batch {
	return &Batch{
		Reference: ref,
		SKU:       sku,
		ETA:       copyTime(eta),
		purchased: qty,
	}
}

// RestoreBatch rebuilds a batch from persisted state, preserving allocation order.
func RestoreBatch(ref, sku string, purchased int, eta *time.Time, allocations []OrderLine) *Batch {
	b := NewBatch(ref, sku, purchased, eta)
	b.allocations = append([]OrderLine(nil), allocations...)
	return b
}

func (b *Batch) PurchasedQuantity() int { return b.purchased }

func (b *Batch) AllocatedQuantity() int {
	total := 0
	for _, line := range b.allocations {
		total += line.Qty
	}
	return total
}

func (b *Batch) AvailableQuantity() int {
	return b.purchased - b.AllocatedQuantity()
}

// Allocations returns a copy of the allocated lines in allocation order.
func (b *Batch) Allocations() []OrderLine {
	return append([]OrderLine(nil), b.allocations...)
}

func (b *Batch) CanAllocate(line OrderLine) bool {
	return b.SKU == line.SKU && b.AvailableQuantity() >= line.Qty
}

// IsAllocated reports whether the order already holds an allocation in this batch.
func (b *Batch) IsAllocated(line OrderLine) bool {
	for _, existing := range b.allocations {
		if existing.OrderID == line.OrderID {
			return true
		}
	}
	return false
}

func (b *Batch) allocate(line OrderLine) {
	if b.IsAllocated(line) {
		return
	}
	b.allocations = append(b.allocations, line)
}

// Deallocate removes the allocation for line's order, if any.
func (b *Batch) Deallocate(line OrderLine) bool {
	for i, existing := range b.allocations {
		if existing.OrderID == line.OrderID {
			b.allocations = append(b.allocations[:i], b.allocations[i+1:]...)
			return true
		}
	}
	return false
}

// deallocateOne removes and returns the most recent allocation.
func (b *Batch) deallocateOne() (OrderLine, bool) {
	n := len(b.allocations)
	if n == 0 {
		return OrderLine{}, false
	}
	line := b.allocations[n-1]
	b.allocations = b.allocations[:n-1]
	return line, true
}

func (b *Batch) clone() *Batch {
	return RestoreBatch(b.Reference, b.SKU, b.purchased, b.ETA, b.allocations)
}

// before orders batches for allocation: warehouse stock (no ETA) first, then earliest ETA.
func (b *Batch) before(other *Batch) bool {
	switch {
	case b.ETA == nil && other.ETA == nil:
		return b.Reference < other.Reference
	case b.ETA == nil:
		return true
	case other.ETA == nil:
		return false
	case b.ETA.Equal(*other.ETA):
		return b.Reference < other.Reference
	default:
		return b.ETA.Before(*other.ETA)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
