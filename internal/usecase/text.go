package usecase

import (
	"regexp"
	"strings"
)

var (
	punctuationPattern = regexp.MustCompile(`[^\w\s]`)
	nonSlugPattern     = regexp.MustCompile(`[^a-z0-9]+`)
	multiSpacePattern  = regexp.MustCompile(`\s+`)
)

const maxSlugLength = 80

// stopWords carry no signal for grouping or classification
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "for": true,
	"with": true, "in": true, "on": true, "by": true, "to": true, "or": true,
	"new": true, "sale": true, "set": true, "pack": true, "size": true,
}

// normalizeName lowercases and collapses whitespace so that trivially
// different spellings of the same product name group together
func normalizeName(s string) string {
	s = multiSpacePattern.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(s)
}

// Slugify turns free text into a lowercase, dash-separated URL token
func Slugify(s string) string {
	slug := nonSlugPattern.ReplaceAllString(strings.ToLower(foldAccents(s)), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
		if i := strings.LastIndex(slug, "-"); i > maxSlugLength/2 {
			slug = slug[:i]
		}
		slug = strings.Trim(slug, "-")
	}
	return slug
}

func skuToken(s string) string {
	return strings.ToUpper(Slugify(s))
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ä", "a", "ã", "a", "å", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "ö", "o", "õ", "o", "ø", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ñ", "n", "ç", "c", "ß", "ss",
	"Á", "A", "À", "A", "Â", "A", "Ä", "A", "Ã", "A", "Å", "A",
	"É", "E", "È", "E", "Ê", "E", "Ë", "E",
	"Í", "I", "Ì", "I", "Î", "I", "Ï", "I",
	"Ó", "O", "Ò", "O", "Ô", "O", "Ö", "O", "Õ", "O", "Ø", "O",
	"Ú", "U", "Ù", "U", "Û", "U", "Ü", "U",
	"Ñ", "N", "Ç", "C",
)

func foldAccents(s string) string {
	return accentReplacer.Replace(s)
}

// tokenize splits text into lowercase keyword tokens.
// Punctuation, stop words, single characters and bare numbers are dropped.
func tokenize(s string) []string {
	cleaned := punctuationPattern.ReplaceAllString(strings.ToLower(foldAccents(s)), " ")

	var tokens []string
	for _, word := range strings.Fields(cleaned) {
		if len(word) <= 1 || stopWords[word] || isNumeric(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	r1, r2 := []rune(s1), []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}
