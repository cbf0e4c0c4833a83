package usecase

import (
	"sort"
	"strings"
)

// UncategorizedCategory is assigned when no keyword matches
const UncategorizedCategory = "uncategorized"

// Token weights for scoring
const (
	weightName        = 2.0 // keyword found in the product name
	weightDescription = 1.0 // keyword found only in the description
	fuzzyWeightFactor = 0.8 // fuzzy matches get 80% of normal weight
	fuzzyMinLength    = 5
)

// DefaultCategoryKeywords is the built-in category table
var DefaultCategoryKeywords = map[string][]string{
	"apparel": {
		"shirt", "tee", "tshirt", "hoodie", "sweater", "jacket", "coat", "dress",
		"skirt", "jeans", "pants", "trousers", "shorts", "blouse", "cardigan", "polo",
	},
	"footwear": {
		"shoe", "shoes", "sneaker", "sneakers", "boot", "boots", "sandal", "sandals",
		"loafer", "loafers", "heels", "slipper", "slippers", "runner", "trainers",
	},
	"accessories": {
		"bag", "belt", "wallet", "scarf", "hat", "cap", "beanie", "gloves",
		"sunglasses", "watch", "necklace", "bracelet", "earrings", "backpack",
	},
	"electronics": {
		"phone", "charger", "cable", "headphones", "earbuds", "speaker", "laptop",
		"tablet", "camera", "keyboard", "mouse", "monitor", "adapter",
	},
	"home": {
		"mug", "cup", "plate", "bowl", "pillow", "blanket", "towel", "candle",
		"lamp", "rug", "curtain", "vase", "sheet", "duvet",
	},
	"beauty": {
		"lipstick", "mascara", "serum", "cream", "lotion", "shampoo", "conditioner",
		"perfume", "fragrance", "moisturizer", "cleanser", "nail",
	},
}

// CategoryClassifier assigns a category from weighted keyword hits
type CategoryClassifier struct {
	categories []string
	keywords   map[string]map[string]bool
}

// NewCategoryClassifier builds a classifier from a category → keywords table.
// A nil or empty table selects DefaultCategoryKeywords.
func NewCategoryClassifier(table map[string][]string) *CategoryClassifier {
	if len(table) == 0 {
		table = DefaultCategoryKeywords
	}

	c := &CategoryClassifier{keywords: make(map[string]map[string]bool, len(table))}
	for category, words := range table {
		name := strings.ToLower(strings.TrimSpace(category))
		if name == "" {
			continue
		}
		set := make(map[string]bool, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				set[w] = true
			}
		}
		c.keywords[name] = set
		c.categories = append(c.categories, name)
	}
	// map iteration order is random; ties must resolve the same way every run
	sort.Strings(c.categories)
	return c
}

// Classify returns the best scoring category for a product
func (c *CategoryClassifier) Classify(name, description string) string {
	nameTokens := tokenize(name)
	descTokens := tokenize(description)

	best, bestScore := UncategorizedCategory, 0.0
	for _, category := range c.categories {
		keywords := c.keywords[category]
		score := scoreTokens(nameTokens, keywords)*weightName +
			scoreTokens(descTokens, keywords)*weightDescription
		if score > bestScore {
			best, bestScore = category, score
		}
	}
	return best
}

func scoreTokens(tokens []string, keywords map[string]bool) float64 {
	score := 0.0
	for _, tok := range tokens {
		if keywords[tok] {
			score++
			continue
		}
		if len(tok) < fuzzyMinLength {
			continue
		}
		for kw := range keywords {
			if len(kw) >= fuzzyMinLength && levenshteinDistance(tok, kw) <= 1 {
				score += fuzzyWeightFactor
				break
			}
		}
	}
	return score
}
