package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/catalogsync/importer/internal/domain"
)

// HTTPStore writes products and variants to the catalog's REST API.
// Both endpoints are PUT-by-key, so the remote side updates on a SKU collision.
type HTTPStore struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	rateLimiter *rate.Limiter
}

// HTTPConfig configures the catalog API client
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RequestsPerSecond bounds the request rate; zero disables the limiter
	RequestsPerSecond float64
	Burst             int
}

// NewHTTPStore creates a catalog API client
func NewHTTPStore(cfg HTTPConfig) *HTTPStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPStore{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		rateLimiter: limiter,
	}
}

type productPayload struct {
	SKU           string   `json:"sku"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Description   string   `json:"description,omitempty"`
	BasePrice     int64    `json:"basePrice"`
	Category      string   `json:"category"`
	Brand         string   `json:"brand,omitempty"`
	Images        []string `json:"images,omitempty"`
	SourceKey     string   `json:"sourceKey,omitempty"`
	VariantsCount int      `json:"variantsCount"`
}

type variantPayload struct {
	SKU             string `json:"sku"`
	Size            string `json:"size,omitempty"`
	Color           string `json:"color,omitempty"`
	PriceAdjustment int64  `json:"priceAdjustment"`
	Stock           int    `json:"stock"`
	Active          bool   `json:"active"`
}

type upsertResponse struct {
	ID string `json:"id"`
}

func (s *HTTPStore) UpsertProduct(ctx context.Context, p domain.CanonicalProduct) (string, error) {
	body := productPayload{
		SKU:           p.SKU,
		Name:          p.Name,
		Slug:          p.Slug,
		Description:   p.Description,
		BasePrice:     p.BasePriceMinorUnits,
		Category:      p.Category,
		Brand:         p.Brand,
		Images:        p.Images,
		SourceKey:     p.SourceKey,
		VariantsCount: len(p.Variants),
	}
	endpoint := fmt.Sprintf("%s/v1/products/%s", s.baseURL, url.PathEscape(p.SKU))
	return s.put(ctx, endpoint, body, p.SKU, "")
}

func (s *HTTPStore) UpsertVariant(ctx context.Context, productID string, v domain.CanonicalVariant) (string, error) {
	body := variantPayload{
		SKU:             v.SKU,
		Size:            v.Size,
		Color:           v.Color,
		PriceAdjustment: v.PriceAdjustmentMinorUnits,
		Stock:           v.StockQuantity,
		Active:          v.Active,
	}
	endpoint := fmt.Sprintf("%s/v1/products/%s/variants/%s", s.baseURL, url.PathEscape(productID), url.PathEscape(v.SKU))
	return s.put(ctx, endpoint, body, productID, v.SKU)
}

// put sends one idempotent write. Retrying is left to the caller's policy;
// the returned *domain.UpsertError says whether a retry can help.
func (s *HTTPStore) put(ctx context.Context, endpoint string, payload any, sku, variantSKU string) (string, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// the next token lies beyond the call deadline
		return "", &domain.UpsertError{SKU: sku, VariantSKU: variantSKU, Transient: true, Err: fmt.Errorf("%w: %v", domain.ErrRateLimited, err)}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", &domain.UpsertError{SKU: sku, VariantSKU: variantSKU, Err: fmt.Errorf("%w: encoding payload: %v", domain.ErrValidation, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "catalog-importer/1.0")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		zap.L().Debug("catalog request failed", zap.String("url", endpoint), zap.Error(err))
		return "", &domain.UpsertError{SKU: sku, VariantSKU: variantSKU, Transient: true, Err: fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.L().Debug("catalog rejected request",
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return "", statusError(resp.StatusCode, body, sku, variantSKU)
	}

	var out upsertResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return "", &domain.UpsertError{SKU: sku, VariantSKU: variantSKU, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	if out.ID == "" {
		return "", &domain.UpsertError{SKU: sku, VariantSKU: variantSKU, StatusCode: resp.StatusCode, Err: errors.New("response carries no id")}
	}
	return out.ID, nil
}

// statusError maps an HTTP status to the retry classification
func statusError(status int, body []byte, sku, variantSKU string) error {
	ue := &domain.UpsertError{SKU: sku, VariantSKU: variantSKU, StatusCode: status}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case status == http.StatusTooManyRequests:
		ue.Transient = true
		ue.Err = domain.ErrRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		ue.Transient = true
		ue.Err = domain.ErrRemoteUnavailable
	case status == http.StatusNotFound:
		ue.Err = domain.ErrNotFound
	default:
		ue.Err = domain.ErrValidation
	}
	if msg != "" {
		ue.Err = fmt.Errorf("%w: %s", ue.Err, msg)
	}
	return ue
}
