package products

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/allocation/internal/domain/allocation"
)

// MemoryStore holds committed products for the in-memory unit of work.
// Sessions work on clones, so nothing a handler mutates is visible until Flush.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*allocation.Product
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]*allocation.Product)}
}

// Product returns a clone of the committed product, or nil.
func (s *MemoryStore) Product(sku string) *allocation.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[sku]
	if !ok {
		return nil
	}
	return p.Clone()
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

func (s *MemoryStore) skuForBatch(ref string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sku, p := range s.products {
		if p.Batch(ref) != nil {
			return sku
		}
	}
	return ""
}

type memorySession struct {
	store *MemoryStore
	ids   identityMap
}

// NewMemorySession opens a session over the store.
func NewMemorySession(store *MemoryStore) Session {
	return &memorySession{store: store, ids: newIdentityMap()}
}

func (s *memorySession) Add(ctx context.Context, p *allocation.Product) error {
	if p == nil {
		return fmt.Errorf("product required")
	}
	if _, ok := s.ids.bySKU[p.SKU]; ok {
		return fmt.Errorf("add %s: %w", p.SKU, ErrAlreadyExists)
	}
	s.ids.track(p, true)
	return nil
}

func (s *memorySession) Get(ctx context.Context, sku string) (*allocation.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p, ok := s.ids.bySKU[sku]; ok {
		return p, nil
	}
	p := s.store.Product(sku)
	if p == nil {
		return nil, nil
	}
	s.ids.track(p, false)
	return p, nil
}

func (s *memorySession) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	if p := s.ids.byBatchRef(ref); p != nil {
		return p, nil
	}
	sku := s.store.skuForBatch(ref)
	if sku == "" {
		return nil, nil
	}
	return s.Get(ctx, sku)
}

// Flush validates every tracked product against the store before writing any of them.
func (s *memorySession) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, p := range s.ids.order {
		cur, exists := s.store.products[p.SKU]
		switch {
		case s.ids.added[p.SKU] && exists:
			return fmt.Errorf("flush %s: %w", p.SKU, ErrAlreadyExists)
		case !s.ids.added[p.SKU] && (!exists || cur.VersionNumber != s.ids.versions[p.SKU]):
			return fmt.Errorf("flush %s at version %d: %w", p.SKU, s.ids.versions[p.SKU], ErrVersionConflict)
		}
	}
	for _, p := range s.ids.order {
		s.store.products[p.SKU] = p.Clone()
	}
	return nil
}
