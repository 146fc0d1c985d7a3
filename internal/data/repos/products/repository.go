// Package products persists Product aggregates.
//
// A Session is a Repository bound to one transaction. It keeps an identity map so every
// lookup of the same sku inside the transaction returns the same *Product, and it writes
// everything it handed out when the owning unit of work commits.
package products

import (
	"context"
	"errors"

	"github.com/yungbote/allocation/internal/domain/allocation"
)

var (
	// ErrVersionConflict indicates the product changed since it was loaded.
	ErrVersionConflict = errors.New("product version conflict")
	// ErrAlreadyExists indicates Add for a sku that is already stored.
	ErrAlreadyExists = errors.New("product already exists")
)

// Repository presents products as if held in memory.
// Lookups return (nil, nil) when nothing matches.
type Repository interface {
	Add(ctx context.Context, p *allocation.Product) error
	Get(ctx context.Context, sku string) (*allocation.Product, error)
	GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error)
}

// Session is a transaction-bound Repository that can persist what it tracked.
type Session interface {
	Repository
	Flush(ctx context.Context) error
}

// Seen is the ordered, identity-deduplicated set of products a unit of work touched.
type Seen struct {
	order []*allocation.Product
	index map[*allocation.Product]struct{}
}

func NewSeen() *Seen {
	return &Seen{index: make(map[*allocation.Product]struct{})}
}

// Add records p unless it is already present.
func (s *Seen) Add(p *allocation.Product) {
	if p == nil {
		return
	}
	if _, ok := s.index[p]; ok {
		return
	}
	s.index[p] = struct{}{}
	s.order = append(s.order, p)
}

// All returns the products in first-seen order.
func (s *Seen) All() []*allocation.Product {
	return append([]*allocation.Product(nil), s.order...)
}

func (s *Seen) Len() int { return len(s.order) }

// TrackingRepository marks every product passing through it as seen.
type TrackingRepository struct {
	inner Repository
	seen  *Seen
}

func NewTrackingRepository(inner Repository, seen *Seen) *TrackingRepository {
	if seen == nil {
		seen = NewSeen()
	}
	return &TrackingRepository{inner: inner, seen: seen}
}

func (r *TrackingRepository) Add(ctx context.Context, p *allocation.Product) error {
	if err := r.inner.Add(ctx, p); err != nil {
		return err
	}
	r.seen.Add(p)
	return nil
}

func (r *TrackingRepository) Get(ctx context.Context, sku string) (*allocation.Product, error) {
	p, err := r.inner.Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	r.seen.Add(p)
	return p, nil
}

func (r *TrackingRepository) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	p, err := r.inner.GetByBatchRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	r.seen.Add(p)
	return p, nil
}

func (r *TrackingRepository) Seen() *Seen { return r.seen }

// identityMap is shared bookkeeping for Session implementations.
type identityMap struct {
	order    []*allocation.Product
	bySKU    map[string]*allocation.Product
	versions map[string]int
	added    map[string]bool
}

func newIdentityMap() identityMap {
	return identityMap{
		bySKU:    make(map[string]*allocation.Product),
		versions: make(map[string]int),
		added:    make(map[string]bool),
	}
}

func (m *identityMap) track(p *allocation.Product, added bool) {
	m.order = append(m.order, p)
	m.bySKU[p.SKU] = p
	m.versions[p.SKU] = p.VersionNumber
	m.added[p.SKU] = added
}

func (m *identityMap) byBatchRef(ref string) *allocation.Product {
	for _, p := range m.order {
		if p.Batch(ref) != nil {
			return p
		}
	}
	return nil
}
