package usecase

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

var (
	currencyCodePattern = regexp.MustCompile(`^(?i:r\$|[a-z]{3}|kr)|(?i:[a-z]{3}|kr)$`)

	// 1,234.56 | 1234.56
	majorDotPattern = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})+|\d+)\.(\d{2})$`)
	// 1.234,56 | 1234,56
	majorCommaPattern = regexp.MustCompile(`^(?:\d{1,3}(?:\.\d{3})+|\d+),(\d{2})$`)
	// 18000 | 18,000 | 18.000
	integralPattern = regexp.MustCompile(`^(?:\d+|\d{1,3}(?:,\d{3})+|\d{1,3}(?:\.\d{3})+)$`)
)

var currencySymbols = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", "₹", "", "₩", "", "₽", "")

// maxPriceDigits keeps the minor-unit value well inside int64
const maxPriceDigits = 15

// ParsedPrice is a price cell split into its integral and fractional parts
type ParsedPrice struct {
	Whole      int64
	Cents      int64
	Fractional bool
}

// ParsePrice strips currency decoration and thousands separators from a price cell
func ParsePrice(raw string) (ParsedPrice, error) {
	s := strings.TrimSpace(raw)
	s = currencyCodePattern.ReplaceAllString(s, "")
	s = currencySymbols.Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	if s == "" {
		return ParsedPrice{}, fmt.Errorf("%w: empty value", domain.ErrMalformedPrice)
	}

	var whole, frac string
	switch {
	case majorDotPattern.MatchString(s):
		i := strings.LastIndexByte(s, '.')
		whole, frac = strings.ReplaceAll(s[:i], ",", ""), s[i+1:]
	case majorCommaPattern.MatchString(s):
		i := strings.LastIndexByte(s, ',')
		whole, frac = strings.ReplaceAll(s[:i], ".", ""), s[i+1:]
	case integralPattern.MatchString(s):
		whole = strings.NewReplacer(",", "", ".", "").Replace(s)
	default:
		return ParsedPrice{}, fmt.Errorf("%w: %q", domain.ErrMalformedPrice, raw)
	}

	if len(whole) > maxPriceDigits {
		return ParsedPrice{}, fmt.Errorf("%w: %q out of range", domain.ErrMalformedPrice, raw)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return ParsedPrice{}, fmt.Errorf("%w: %q", domain.ErrMalformedPrice, raw)
	}
	p := ParsedPrice{Whole: w}
	if frac != "" {
		c, _ := strconv.ParseInt(frac, 10, 64)
		p.Cents, p.Fractional = c, true
	}
	return p, nil
}

// PriceNormalizer converts price cells to minor units under one run-wide scale
type PriceNormalizer struct {
	scale domain.PriceScale
	min   int64
	max   int64
}

// NewPriceNormalizer creates a normalizer. Bounds are in minor units; zero disables a bound.
func NewPriceNormalizer(scale domain.PriceScale, minMinor, maxMinor int64) *PriceNormalizer {
	if scale == "" {
		scale = domain.PriceScaleAuto
	}
	return &PriceNormalizer{scale: scale, min: minMinor, max: maxMinor}
}

// Scale returns the configured scale
func (n *PriceNormalizer) Scale() domain.PriceScale {
	return n.scale
}

// WithScale returns a copy bound to a decided run scale
func (n *PriceNormalizer) WithScale(scale domain.PriceScale) *PriceNormalizer {
	c := *n
	c.scale = scale
	return &c
}

// Normalize returns the price in minor units.
// Two-digit fractions are always major units; integral values follow the run scale.
func (n *PriceNormalizer) Normalize(raw string) (int64, error) {
	p, err := ParsePrice(raw)
	if err != nil {
		return 0, err
	}
	if p.Fractional || n.scale == domain.PriceScaleMajor {
		return p.Whole*100 + p.Cents, nil
	}
	return p.Whole, nil
}

// InBounds reports whether a minor-unit price lies inside the sanity bounds
func (n *PriceNormalizer) InBounds(minor int64) bool {
	if n.min > 0 && minor < n.min {
		return false
	}
	if n.max > 0 && minor > n.max {
		return false
	}
	return true
}

// BoundsMessage describes a bounds violation
func (n *PriceNormalizer) BoundsMessage(raw string, minor int64) string {
	return fmt.Sprintf("price %q normalized to %d minor units is outside [%d, %d]", raw, minor, n.min, n.max)
}

// DetectScale decides the run scale from a full pass over the price column.
// Any two-digit fraction marks the export as major-unit. Unparseable cells are ignored.
func DetectScale(rows domain.RowReader) (domain.PriceScale, error) {
	scanned, fractional := 0, 0
	for {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, domain.ErrMalformedRow) {
				continue
			}
			return "", err
		}
		p, err := ParsePrice(row.Get(domain.FieldPrice))
		if err != nil {
			continue
		}
		scanned++
		if p.Fractional {
			fractional++
		}
	}

	scale := domain.PriceScaleMinor
	if fractional > 0 {
		scale = domain.PriceScaleMajor
	}
	zap.L().Info("price scale detected",
		zap.String("scale", string(scale)),
		zap.Int("scanned", scanned),
		zap.Int("fractional", fractional))
	return scale, nil
}
