package domain

import "strings"

// Logical source fields a column mapping can bind to header names
const (
	FieldKey         = "key"
	FieldName        = "name"
	FieldDescription = "description"
	FieldPrice       = "price"
	FieldSize        = "size"
	FieldColor       = "color"
	FieldStock       = "stock"
	FieldCategory    = "category"
	FieldBrand       = "brand"
	FieldImages      = "images"
	FieldActive      = "active"
)

// LogicalFields lists every field a column mapping may bind
var LogicalFields = []string{
	FieldKey, FieldName, FieldDescription, FieldPrice, FieldSize, FieldColor,
	FieldStock, FieldCategory, FieldBrand, FieldImages, FieldActive,
}

// RawRow is one parsed line of the source export.
// Header holds logical column names (after mapping), Values the cell text.
type RawRow struct {
	Line   int
	Header []string
	Values []string
}

// Get returns the value of the named column, or "" when the column is absent
func (r RawRow) Get(column string) string {
	for i, h := range r.Header {
		if h == column {
			if i < len(r.Values) {
				return strings.TrimSpace(r.Values[i])
			}
			return ""
		}
	}
	return ""
}

// Has reports whether the row's header contains the named column
func (r RawRow) Has(column string) bool {
	for _, h := range r.Header {
		if h == column {
			return true
		}
	}
	return false
}

// CanonicalProduct is the normalized product aggregate written to the catalog
type CanonicalProduct struct {
	SourceKey           string             `json:"sourceKey"`
	Name                string             `json:"name"`
	Description         string             `json:"description,omitempty"`
	SKU                 string             `json:"sku"`
	Slug                string             `json:"slug"`
	BasePriceMinorUnits int64              `json:"basePriceMinorUnits"`
	Category            string             `json:"category"`
	Brand               string             `json:"brand,omitempty"`
	Images              []string           `json:"images,omitempty"`
	Variants            []CanonicalVariant `json:"variants"`
}

// CanonicalVariant is one purchasable size/color combination of a product
type CanonicalVariant struct {
	Size                      string `json:"size,omitempty"`
	Color                     string `json:"color,omitempty"`
	SKU                       string `json:"sku"`
	PriceAdjustmentMinorUnits int64  `json:"priceAdjustmentMinorUnits"`
	StockQuantity             int    `json:"stockQuantity"`
	Active                    bool   `json:"active"`
}

// VariantPrice returns the absolute price of a variant in minor units
func (p CanonicalProduct) VariantPrice(v CanonicalVariant) int64 {
	return p.BasePriceMinorUnits + v.PriceAdjustmentMinorUnits
}

// ImportRecord is the unit of work. Index is the only resume coordinate.
// Rejection is set when canonicalization found the record unfit for writing;
// such records are failed without contacting the catalog.
type ImportRecord struct {
	Index     int              `json:"index"`
	Line      int              `json:"line"`
	Product   CanonicalProduct `json:"product"`
	Rejection error            `json:"-"`
}

// PriceScale is the unit in which a run's integral prices are expressed
type PriceScale string

const (
	PriceScaleAuto  PriceScale = "auto"
	PriceScaleMajor PriceScale = "major"
	PriceScaleMinor PriceScale = "minor"
)
