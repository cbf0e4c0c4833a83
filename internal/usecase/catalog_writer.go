package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

// UpsertResult describes a finished product write
type UpsertResult struct {
	SKU       string
	ProductID string
	Attempts  int
	// Partial is set when the product header is stored but at least one variant is not
	Partial bool
}

// CatalogWriter performs the two-step product/variant upsert under the retry policy.
// Product ids and stored variants are remembered for the run, so a retry after a
// partial failure re-sends only the variants that failed.
type CatalogWriter struct {
	store       domain.CatalogStore
	policy      RetryPolicy
	callTimeout time.Duration

	mu         sync.Mutex
	productIDs map[string]string
	stored     map[string]bool
}

// NewCatalogWriter creates a writer. A zero callTimeout disables the per-call deadline.
func NewCatalogWriter(store domain.CatalogStore, policy RetryPolicy, callTimeout time.Duration) *CatalogWriter {
	return &CatalogWriter{
		store:       store,
		policy:      policy,
		callTimeout: callTimeout,
		productIDs:  make(map[string]string),
		stored:      make(map[string]bool),
	}
}

// Upsert writes the product header and then every variant not yet stored in this run
func (w *CatalogWriter) Upsert(ctx context.Context, product domain.CanonicalProduct) (UpsertResult, error) {
	res := UpsertResult{SKU: product.SKU}

	attempts, err := w.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			zap.L().Info("retrying catalog upsert", zap.String("sku", product.SKU), zap.Int("attempt", attempt))
		}
		return w.upsertOnce(ctx, product)
	})
	res.Attempts = attempts
	res.ProductID = w.productID(product.SKU)

	if err != nil {
		if res.ProductID != "" {
			res.Partial = true
			return res, fmt.Errorf("%w: %w", domain.ErrPartialUpsert, err)
		}
		return res, err
	}

	w.forgetVariants(product)
	return res, nil
}

func (w *CatalogWriter) upsertOnce(ctx context.Context, product domain.CanonicalProduct) error {
	productID := w.productID(product.SKU)
	if productID == "" {
		var err error
		err = w.call(ctx, func(ctx context.Context) error {
			productID, err = w.store.UpsertProduct(ctx, product)
			return err
		})
		if err != nil {
			return classifyTimeout(ctx, err, product.SKU, "")
		}
		w.mu.Lock()
		w.productIDs[product.SKU] = productID
		w.mu.Unlock()
	}

	for _, v := range product.Variants {
		if w.isStored(v.SKU) {
			continue
		}
		err := w.call(ctx, func(ctx context.Context) error {
			_, err := w.store.UpsertVariant(ctx, productID, v)
			return err
		})
		if err != nil {
			return classifyTimeout(ctx, err, product.SKU, v.SKU)
		}
		w.mu.Lock()
		w.stored[v.SKU] = true
		w.mu.Unlock()
	}
	return nil
}

func (w *CatalogWriter) call(ctx context.Context, fn func(context.Context) error) error {
	if w.callTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	return fn(callCtx)
}

// classifyTimeout turns a per-call deadline into a transient error while the run itself is still alive
func classifyTimeout(ctx context.Context, err error, sku, variantSKU string) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &domain.UpsertError{
			SKU:        sku,
			VariantSKU: variantSKU,
			Transient:  true,
			Err:        fmt.Errorf("%w: call timed out", domain.ErrRemoteUnavailable),
		}
	}
	return err
}

func (w *CatalogWriter) productID(sku string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.productIDs[sku]
}

func (w *CatalogWriter) isStored(variantSKU string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stored[variantSKU]
}

func (w *CatalogWriter) forgetVariants(product domain.CanonicalProduct) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, v := range product.Variants {
		delete(w.stored, v.SKU)
	}
}
