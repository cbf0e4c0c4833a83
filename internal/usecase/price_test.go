package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/importer/internal/domain"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw        string
		whole      int64
		cents      int64
		fractional bool
		wantErr    bool
	}{
		{raw: "$120.50", whole: 120, cents: 50, fractional: true},
		{raw: "18,000.00", whole: 18000, fractional: true},
		{raw: "1.234,56 €", whole: 1234, cents: 56, fractional: true},
		{raw: "12,50", whole: 12, cents: 50, fractional: true},
		{raw: "USD 99.99", whole: 99, cents: 99, fractional: true},
		{raw: "R$ 45,90", whole: 45, cents: 90, fractional: true},
		{raw: "15000", whole: 15000},
		{raw: "18,000", whole: 18000},
		{raw: "18.000", whole: 18000},
		{raw: "1 250 000", whole: 1250000},
		{raw: "  £7  ", whole: 7},
		{raw: "", wantErr: true},
		{raw: "1.5", wantErr: true},
		{raw: "-3.00", wantErr: true},
		{raw: "12.345.6", wantErr: true},
		{raw: "free", wantErr: true},
		{raw: "9999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePrice(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedPrice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.whole, got.Whole)
			assert.Equal(t, tt.cents, got.Cents)
			assert.Equal(t, tt.fractional, got.Fractional)
		})
	}
}

func TestPriceNormalizer_RoundTrip(t *testing.T) {
	major := NewPriceNormalizer(domain.PriceScaleMajor, 0, 0)

	samples := [][]string{
		{"18,000.00", "18000", "$18,000", "18.000,00", "18 000"},
		{"120.50", "$120.50", "120,50"},
		{"85.00", "85", "EUR 85"},
	}

	for _, group := range samples {
		want, err := major.Normalize(group[0])
		require.NoError(t, err)
		for _, raw := range group[1:] {
			got, err := major.Normalize(raw)
			require.NoError(t, err, raw)
			assert.Equal(t, want, got, "%q vs %q", group[0], raw)
		}
	}

	v, err := major.Normalize("18,000.00")
	require.NoError(t, err)
	assert.Equal(t, int64(1800000), v)
}

func TestPriceNormalizer_MinorScaleKeepsIntegers(t *testing.T) {
	minor := NewPriceNormalizer(domain.PriceScaleMinor, 0, 0)

	v, err := minor.Normalize("15000")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), v)

	v, err = minor.Normalize("1,999")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), v)

	// a fraction is major units regardless of the run scale
	v, err = minor.Normalize("19.99")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), v)
}

func TestPriceNormalizer_InBounds(t *testing.T) {
	n := NewPriceNormalizer(domain.PriceScaleMajor, 100, 1_000_000)

	assert.True(t, n.InBounds(100))
	assert.True(t, n.InBounds(1_000_000))
	assert.False(t, n.InBounds(99))
	assert.False(t, n.InBounds(1_000_001))

	unbounded := NewPriceNormalizer(domain.PriceScaleMajor, 0, 0)
	assert.True(t, unbounded.InBounds(0))
	assert.True(t, unbounded.InBounds(1<<40))
}

func TestDetectScale(t *testing.T) {
	t.Run("any fraction means major units", func(t *testing.T) {
		r := newRows("name,price", "A,$120.50", "B,15000", "C,oops")
		scale, err := DetectScale(r)
		require.NoError(t, err)
		assert.Equal(t, domain.PriceScaleMajor, scale)
	})

	t.Run("integers only means minor units", func(t *testing.T) {
		r := newRows("name,price", "A,12050", "B,8500")
		r.errs[1] = domain.ErrMalformedRow
		scale, err := DetectScale(r)
		require.NoError(t, err)
		assert.Equal(t, domain.PriceScaleMinor, scale)
	})

	t.Run("fatal reader error propagates", func(t *testing.T) {
		r := newRows("name,price", "A,1.00")
		r.errs[0] = domain.ErrSourceUnreadable
		_, err := DetectScale(r)
		assert.ErrorIs(t, err, domain.ErrSourceUnreadable)
	})
}
