package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/importer/internal/domain"
)

func canonicalize(t *testing.T, scale domain.PriceScale, r *MockRowReader) *CanonicalStream {
	t.Helper()
	c := NewCanonicalizer(NewPriceNormalizer(scale, 0, 0), nil)
	stream, err := c.Canonicalize(r)
	require.NoError(t, err)
	return stream
}

func anomaliesOf(stream *CanonicalStream, kind string) []domain.Anomaly {
	var out []domain.Anomaly
	for _, a := range stream.Anomalies {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestCanonicalize_ThreeRowScenario(t *testing.T) {
	stream := canonicalize(t, domain.PriceScaleMajor, newRows("name,price,size,color",
		"Product A,$120.50,M,Red",
		"Product A,$85.00,L,Blue",
		"Product B,15000,,",
	))

	require.Len(t, stream.Records, 2)
	a, b := stream.Records[0], stream.Records[1]

	assert.Equal(t, 0, a.Index)
	assert.Equal(t, "PRODUCT-A", a.Product.SKU)
	assert.Equal(t, "product-a", a.Product.Slug)
	require.Len(t, a.Product.Variants, 2)
	assert.Equal(t, int64(8500), a.Product.BasePriceMinorUnits)
	assert.Equal(t, "PRODUCT-A-M-RED", a.Product.Variants[0].SKU)
	assert.Equal(t, int64(12050), a.Product.VariantPrice(a.Product.Variants[0]))
	assert.Equal(t, "PRODUCT-A-L-BLUE", a.Product.Variants[1].SKU)
	assert.Equal(t, int64(8500), a.Product.VariantPrice(a.Product.Variants[1]))
	assert.Equal(t, int64(0), a.Product.Variants[1].PriceAdjustmentMinorUnits)

	assert.Equal(t, 1, b.Index)
	require.Len(t, b.Product.Variants, 1)
	assert.Equal(t, "PRODUCT-B-DEFAULT", b.Product.Variants[0].SKU)
	assert.Equal(t, int64(1500000), b.Product.BasePriceMinorUnits)
	assert.True(t, b.Product.Variants[0].Active)

	assert.Nil(t, a.Rejection)
	assert.Nil(t, b.Rejection)
}

func TestCanonicalize_IsDeterministic(t *testing.T) {
	lines := []string{
		"Classic Tee,10.00,S,White",
		"Classic Tee,10.00,M,White",
		"classic  tee,12.00,L,White",
		"Hoodie,40.00,M,Grey",
		"Classic-Tee,9.00,,",
	}
	first := canonicalize(t, domain.PriceScaleMajor, newRows("name,price,size,color", lines...))
	second := canonicalize(t, domain.PriceScaleMajor, newRows("name,price,size,color", lines...))

	assert.Equal(t, first.Records, second.Records)
	require.Len(t, first.Records, 3)
	assert.Len(t, first.Records[0].Product.Variants, 3, "names differing only in case and spacing group together")
	assert.Equal(t, "CLASSIC-TEE", first.Records[0].Product.SKU)
	assert.Equal(t, "CLASSIC-TEE-2", first.Records[2].Product.SKU, "slug collision gets a counter")
}

func TestCanonicalize_GroupsByExplicitKey(t *testing.T) {
	stream := canonicalize(t, domain.PriceScaleMajor, newRows("key,name,price,size",
		"p-1,Runner,59.00,41",
		"p-2,Runner,65.00,41",
		"p-1,Runner,59.00,42",
		",Sandal,20.00,38",
		"p-3,,30.00,40",
	))

	require.Len(t, stream.Records, 4)
	assert.Equal(t, "p-1", stream.Records[0].Product.SourceKey)
	assert.Len(t, stream.Records[0].Product.Variants, 2)
	assert.Equal(t, "RUNNER", stream.Records[0].Product.SKU)
	assert.Equal(t, "RUNNER-2", stream.Records[1].Product.SKU, "the name drives the SKU even when a key is present")
	assert.Equal(t, "sandal", stream.Records[2].Product.SourceKey)
	assert.Equal(t, "P-3", stream.Records[3].Product.SKU, "a nameless row falls back to its key")
}

func TestCanonicalize_VariantSKUCollisionIsReported(t *testing.T) {
	stream := canonicalize(t, domain.PriceScaleMajor, newRows("name,price,size",
		"Tee,10.00,X L",
		"Tee,10.00,X-L",
	))

	require.Len(t, stream.Records, 1)
	variants := stream.Records[0].Product.Variants
	require.Len(t, variants, 2, "the sizes differ, so both variants are kept")
	assert.Equal(t, "TEE-X-L", variants[0].SKU)
	assert.Equal(t, "TEE-X-L-2", variants[1].SKU)

	collisions := anomaliesOf(stream, domain.AnomalyVariantCollision)
	require.Len(t, collisions, 1)
	assert.Equal(t, 3, collisions[0].Line)
	assert.Equal(t, "TEE", collisions[0].SKU)
	assert.Contains(t, collisions[0].Message, "TEE-X-L-2")
}

func TestCanonicalize_VariantCollisionKeepsLastRow(t *testing.T) {
	stream := canonicalize(t, domain.PriceScaleMajor, newRows("name,price,size,color,stock",
		"Tee,10.00,M,Red,5",
		"Tee,11.00,m,red,8",
	))

	require.Len(t, stream.Records, 1)
	variants := stream.Records[0].Product.Variants
	require.Len(t, variants, 1)
	assert.Equal(t, 8, variants[0].StockQuantity)
	assert.Equal(t, int64(1100), stream.Records[0].Product.BasePriceMinorUnits)

	collisions := anomaliesOf(stream, domain.AnomalyVariantCollision)
	require.Len(t, collisions, 1)
	assert.Equal(t, 3, collisions[0].Line)
	assert.Equal(t, "TEE", collisions[0].SKU)
}

func TestCanonicalize_Anomalies(t *testing.T) {
	r := newRows("name,price,stock",
		"Lamp,25.00,3",
		",10.00,1",
		"Mug,broken,2",
		"Vase,999999.00,x",
		"Rug,1.00,-4",
	)
	r.errs[1] = domain.ErrMalformedRow

	c := NewCanonicalizer(NewPriceNormalizer(domain.PriceScaleMajor, 100, 1_000_000), nil)
	stream, err := c.Canonicalize(r)
	require.NoError(t, err)

	assert.Equal(t, 1, stream.MalformedRows)
	assert.Equal(t, 4, stream.Rows)
	assert.Len(t, anomaliesOf(stream, domain.AnomalyMalformedRow), 1)
	assert.Len(t, anomaliesOf(stream, domain.AnomalyMissingKey), 0, "the keyless row was the malformed one")
	assert.Len(t, anomaliesOf(stream, domain.AnomalyPriceOutOfBounds), 1)
	assert.Len(t, anomaliesOf(stream, domain.AnomalyInvalidStock), 2)

	require.Len(t, stream.Records, 4)
	mug := stream.Records[1]
	assert.Equal(t, "MUG", mug.Product.SKU)
	assert.ErrorIs(t, mug.Rejection, domain.ErrMalformedPrice)

	vase := stream.Records[2]
	assert.Nil(t, vase.Rejection, "out-of-bounds prices are flagged, not rejected")
	assert.Equal(t, 0, vase.Product.Variants[0].StockQuantity)
}

func TestCanonicalize_MissingKey(t *testing.T) {
	stream := canonicalize(t, domain.PriceScaleMajor, newRows("key,name,price",
		",,10.00",
		"k1,Lamp,25.00",
	))

	assert.Len(t, stream.Records, 1)
	assert.Equal(t, 0, stream.Records[0].Index)
	assert.Len(t, anomaliesOf(stream, domain.AnomalyMissingKey), 1)
}

func TestCanonicalize_ProductFields(t *testing.T) {
	stream := canonicalize(t, domain.PriceScaleMajor, newRows("name,price,brand,category,description,images,active",
		"Desk Lamp,35.00,Lumo,,A reading lamp,https://cdn.example.com/a.jpg|ftp://x/b.jpg|https://cdn.example.com/a.jpg,no",
		"Desk Lamp,35.00,,,,https://cdn.example.com/c.jpg,yes",
		"Gift Card,10.00,,Vouchers,,,",
	))

	require.Len(t, stream.Records, 2)
	lamp := stream.Records[0].Product
	assert.Equal(t, "Lumo", lamp.Brand)
	assert.Equal(t, "A reading lamp", lamp.Description)
	assert.Equal(t, "home", lamp.Category)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/c.jpg"}, lamp.Images)
	require.Len(t, lamp.Variants, 1)
	assert.True(t, lamp.Variants[0].Active, "the later duplicate row wins")

	card := stream.Records[1].Product
	assert.Equal(t, "vouchers", card.Category)
}

func TestParseStock(t *testing.T) {
	assert.Equal(t, 0, parseStock(""))
	assert.Equal(t, 12, parseStock("12"))
	assert.Equal(t, 1200, parseStock("1,200"))
	assert.Equal(t, 3, parseStock("3.0"))
	assert.Equal(t, -1, parseStock("3.5"))
	assert.Equal(t, -1, parseStock("-2"))
	assert.Equal(t, -1, parseStock("lots"))
}

func TestParseActive(t *testing.T) {
	for _, v := range []string{"", "true", "YES", "1", "active"} {
		assert.True(t, parseActive(v), v)
	}
	for _, v := range []string{"false", "No", "0", "inactive", "off"} {
		assert.False(t, parseActive(v), v)
	}
}
