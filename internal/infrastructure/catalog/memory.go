package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/catalogsync/importer/internal/domain"
)

// StoredVariant is a variant row held by MemoryStore
type StoredVariant struct {
	ID        string
	ProductID string
	Variant   domain.CanonicalVariant
}

// MemoryStore is a thread-safe in-process catalog keyed by SKU, used for dry
// runs against a scratch catalog and in tests
type MemoryStore struct {
	products map[string]domain.CanonicalProduct
	ids      map[string]string
	variants map[string]StoredVariant
	writes   int
	mutex    sync.RWMutex
}

// NewMemoryStore creates an empty catalog
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]domain.CanonicalProduct),
		ids:      make(map[string]string),
		variants: make(map[string]StoredVariant),
	}
}

func (m *MemoryStore) UpsertProduct(ctx context.Context, p domain.CanonicalProduct) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.SKU == "" {
		return "", &domain.UpsertError{Err: fmt.Errorf("%w: empty sku", domain.ErrValidation)}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	id, ok := m.ids[p.SKU]
	if !ok {
		id = uuid.NewSHA1(catalogNamespace, []byte("product:"+p.SKU)).String()
		m.ids[p.SKU] = id
	}
	p.Variants = nil
	m.products[p.SKU] = p
	m.writes++
	return id, nil
}

func (m *MemoryStore) UpsertVariant(ctx context.Context, productID string, v domain.CanonicalVariant) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if v.SKU == "" {
		return "", &domain.UpsertError{SKU: productID, Err: fmt.Errorf("%w: empty variant sku", domain.ErrValidation)}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	sv, ok := m.variants[v.SKU]
	if !ok {
		sv.ID = uuid.NewSHA1(catalogNamespace, []byte("variant:"+v.SKU)).String()
	}
	sv.ProductID = productID
	sv.Variant = v
	m.variants[v.SKU] = sv
	m.writes++
	return sv.ID, nil
}

// Product returns the stored product header for a SKU
func (m *MemoryStore) Product(sku string) (domain.CanonicalProduct, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	p, ok := m.products[sku]
	return p, ok
}

// Variant returns the stored variant for a variant SKU
func (m *MemoryStore) Variant(sku string) (StoredVariant, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	v, ok := m.variants[sku]
	return v, ok
}

// Counts returns the number of distinct products and variants held
func (m *MemoryStore) Counts() (products, variants int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.products), len(m.variants)
}

// Writes returns the number of successful upsert calls
func (m *MemoryStore) Writes() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.writes
}
