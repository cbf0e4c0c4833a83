package usecase

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

const defaultVariantSuffix = "DEFAULT"

// CanonicalStream is the ordered, indexed output of one canonicalization pass
type CanonicalStream struct {
	Records       []domain.ImportRecord
	Anomalies     []domain.Anomaly
	Rows          int
	MalformedRows int
}

// Canonicalizer folds raw rows into product aggregates
type Canonicalizer struct {
	prices     *PriceNormalizer
	classifier *CategoryClassifier
}

// NewCanonicalizer creates a canonicalizer bound to a run's price normalizer
func NewCanonicalizer(prices *PriceNormalizer, classifier *CategoryClassifier) *Canonicalizer {
	if classifier == nil {
		classifier = NewCategoryClassifier(nil)
	}
	return &Canonicalizer{prices: prices, classifier: classifier}
}

type variantDraft struct {
	variant domain.CanonicalVariant
	price   int64
	line    int
}

type productDraft struct {
	index      int
	line       int
	product    domain.CanonicalProduct
	category   string
	images     map[string]bool
	variants   []*variantDraft
	byDim      map[string]*variantDraft
	rejections []error
}

type canonState struct {
	stream      *CanonicalStream
	drafts      []*productDraft
	byKey       map[string]*productDraft
	productSKUs map[string]bool
}

// Canonicalize reads every row and returns the record stream in first-seen order.
// The same input always yields the same indices and SKUs.
func (c *Canonicalizer) Canonicalize(rows domain.RowReader) (*CanonicalStream, error) {
	st := &canonState{
		stream:      &CanonicalStream{},
		byKey:       make(map[string]*productDraft),
		productSKUs: make(map[string]bool),
	}

	for {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, domain.ErrMalformedRow) {
				st.stream.MalformedRows++
				st.anomaly(domain.Anomaly{
					Kind:    domain.AnomalyMalformedRow,
					Line:    row.Line,
					Message: err.Error(),
				})
				zap.L().Warn("skipping malformed row", zap.Int("line", row.Line), zap.Error(err))
				continue
			}
			return nil, err
		}
		st.stream.Rows++
		c.fold(st, row)
	}

	c.finalize(st)
	return st.stream, nil
}

func (st *canonState) anomaly(a domain.Anomaly) {
	st.stream.Anomalies = append(st.stream.Anomalies, a)
}

func (c *Canonicalizer) fold(st *canonState, row domain.RawRow) {
	name := strings.TrimSpace(row.Get(domain.FieldName))
	sourceKey := row.Get(domain.FieldKey)
	groupKey := sourceKey
	if groupKey == "" {
		groupKey = normalizeName(name)
	}
	if groupKey == "" {
		st.anomaly(domain.Anomaly{
			Kind:    domain.AnomalyMissingKey,
			Line:    row.Line,
			Message: "row has neither a product key nor a name",
		})
		return
	}

	draft, ok := st.byKey[groupKey]
	if !ok {
		draft = st.newDraft(groupKey, sourceKey, name, row.Line)
	}
	p := &draft.product

	if p.Description == "" {
		p.Description = row.Get(domain.FieldDescription)
	}
	if p.Brand == "" {
		p.Brand = row.Get(domain.FieldBrand)
	}
	if draft.category == "" {
		draft.category = row.Get(domain.FieldCategory)
	}
	c.addImages(draft, row.Get(domain.FieldImages))

	rawPrice := row.Get(domain.FieldPrice)
	price, err := c.prices.Normalize(rawPrice)
	if err != nil {
		draft.rejections = append(draft.rejections, fmt.Errorf("line %d: %w", row.Line, err))
	} else if !c.prices.InBounds(price) {
		st.anomaly(domain.Anomaly{
			Kind:    domain.AnomalyPriceOutOfBounds,
			Line:    row.Line,
			SKU:     p.SKU,
			Message: c.prices.BoundsMessage(rawPrice, price),
		})
	}

	stock := parseStock(row.Get(domain.FieldStock))
	if stock < 0 {
		st.anomaly(domain.Anomaly{
			Kind:    domain.AnomalyInvalidStock,
			Line:    row.Line,
			SKU:     p.SKU,
			Message: fmt.Sprintf("stock %q is not a non-negative integer, using 0", row.Get(domain.FieldStock)),
		})
		stock = 0
	}

	size, color := row.Get(domain.FieldSize), row.Get(domain.FieldColor)
	dim := strings.ToLower(size) + "\x00" + strings.ToLower(color)
	v := domain.CanonicalVariant{
		Size:          size,
		Color:         color,
		StockQuantity: stock,
		Active:        parseActive(row.Get(domain.FieldActive)),
	}

	if existing, ok := draft.byDim[dim]; ok {
		st.anomaly(domain.Anomaly{
			Kind:    domain.AnomalyVariantCollision,
			Line:    row.Line,
			SKU:     p.SKU,
			Message: fmt.Sprintf("size %q color %q repeats line %d, keeping the later row", size, color, existing.line),
		})
		zap.L().Warn("duplicate variant overwritten",
			zap.String("sku", p.SKU),
			zap.String("size", size),
			zap.String("color", color),
			zap.Int("line", row.Line),
			zap.Int("previousLine", existing.line))
		existing.variant = v
		existing.price = price
		existing.line = row.Line
		return
	}

	vd := &variantDraft{variant: v, price: price, line: row.Line}
	draft.byDim[dim] = vd
	draft.variants = append(draft.variants, vd)
}

func (st *canonState) newDraft(groupKey, sourceKey, name string, line int) *productDraft {
	if name == "" {
		name = sourceKey
	}
	if sourceKey == "" {
		sourceKey = groupKey
	}

	base := skuToken(name)
	if base == "" {
		base = skuToken(sourceKey)
	}
	if base == "" {
		base = "ITEM"
	}
	sku := base
	for n := 2; st.productSKUs[sku]; n++ {
		sku = fmt.Sprintf("%s-%d", base, n)
	}
	st.productSKUs[sku] = true

	d := &productDraft{
		index: len(st.drafts),
		line:  line,
		product: domain.CanonicalProduct{
			SourceKey: sourceKey,
			Name:      name,
			SKU:       sku,
			Slug:      strings.ToLower(sku),
		},
		images: make(map[string]bool),
		byDim:  make(map[string]*variantDraft),
	}
	st.drafts = append(st.drafts, d)
	st.byKey[groupKey] = d
	return d
}

func (c *Canonicalizer) addImages(d *productDraft, cell string) {
	if cell == "" {
		return
	}
	parts := strings.FieldsFunc(cell, func(r rune) bool { return r == '|' || r == ',' })
	for _, part := range parts {
		img := strings.TrimSpace(part)
		if img == "" || d.images[img] {
			continue
		}
		u, err := url.Parse(img)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			zap.L().Debug("dropping image reference", zap.String("sku", d.product.SKU), zap.String("image", img))
			continue
		}
		d.images[img] = true
		d.product.Images = append(d.product.Images, img)
	}
}

// finalize assigns variant SKUs, derives base prices and categories, and emits records
func (c *Canonicalizer) finalize(st *canonState) {
	variantSKUs := make(map[string]bool)
	st.stream.Records = make([]domain.ImportRecord, 0, len(st.drafts))

	for _, d := range st.drafts {
		p := d.product
		if d.category != "" {
			p.Category = strings.ToLower(d.category)
		} else {
			p.Category = c.classifier.Classify(p.Name, p.Description)
		}

		base := int64(-1)
		for _, vd := range d.variants {
			if base < 0 || vd.price < base {
				base = vd.price
			}
		}
		if base < 0 {
			base = 0
		}
		p.BasePriceMinorUnits = base

		p.Variants = make([]domain.CanonicalVariant, 0, len(d.variants))
		for _, vd := range d.variants {
			v := vd.variant
			v.PriceAdjustmentMinorUnits = vd.price - base
			want := variantSKU(p.SKU, v.Size, v.Color)
			v.SKU = uniqueSKU(variantSKUs, want)
			if v.SKU != want {
				st.anomaly(domain.Anomaly{
					Kind:    domain.AnomalyVariantCollision,
					Line:    vd.line,
					SKU:     p.SKU,
					Message: fmt.Sprintf("variant SKU %s is already taken, using %s", want, v.SKU),
				})
			}
			p.Variants = append(p.Variants, v)
		}

		rec := domain.ImportRecord{Index: d.index, Line: d.line, Product: p}
		if len(d.rejections) > 0 {
			rec.Rejection = errors.Join(d.rejections...)
		}
		st.stream.Records = append(st.stream.Records, rec)
	}
}

func variantSKU(productSKU, size, color string) string {
	parts := []string{productSKU}
	if t := skuToken(size); t != "" {
		parts = append(parts, t)
	}
	if t := skuToken(color); t != "" {
		parts = append(parts, t)
	}
	if len(parts) == 1 {
		parts = append(parts, defaultVariantSuffix)
	}
	return strings.Join(parts, "-")
}

func uniqueSKU(used map[string]bool, base string) string {
	sku := base
	for n := 2; used[sku]; n++ {
		sku = fmt.Sprintf("%s-%d", base, n)
	}
	used[sku] = true
	return sku
}

// parseStock returns -1 for values that are not a non-negative integer
func parseStock(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) && f >= 0 && f < 1e9 {
		return int(f)
	}
	return -1
}

func parseActive(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "false", "no", "n", "0", "inactive", "disabled", "off":
		return false
	default:
		return true
	}
}
