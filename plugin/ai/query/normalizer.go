// Package query canonicalizes raw user queries for cache-key stability and
// produces acronym-expanded and paraphrased variants for retrieval recall.
package query

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxVariants is the number of variants produced when no limit is given.
const DefaultMaxVariants = 3

// CanonicalQuery is the normalized form of a single incoming query.
// It is built per request and discarded once the lookup/store cycle ends.
type CanonicalQuery struct {
	// Raw is the query exactly as supplied.
	Raw string
	// Normalized is lowercased, punctuation-free, whitespace-collapsed and
	// token-sorted. It depends on Raw only.
	Normalized string
	// Tokens are the sorted tokens that make up Normalized.
	Tokens []string
	// Expanded is Raw with known acronyms expanded in place.
	Expanded string
	// Variants are alternate phrasings, original first.
	Variants []string
}

// IsEmpty reports whether the query carried no usable tokens.
func (q CanonicalQuery) IsEmpty() bool {
	return len(q.Tokens) == 0
}

// Normalizer bundles the acronym dictionary with the variant limit.
// A Normalizer is immutable after construction and safe for concurrent use.
type Normalizer struct {
	dict        *Dictionary
	maxVariants int
}

// NewNormalizer creates a Normalizer. A nil dictionary uses DefaultDictionary,
// maxVariants <= 0 uses DefaultMaxVariants.
func NewNormalizer(dict *Dictionary, maxVariants int) *Normalizer {
	if dict == nil {
		dict = DefaultDictionary()
	}
	if maxVariants <= 0 {
		maxVariants = DefaultMaxVariants
	}
	return &Normalizer{
		dict:        dict,
		maxVariants: maxVariants,
	}
}

var defaultNormalizer = NewNormalizer(nil, DefaultMaxVariants)

// Normalize canonicalizes raw with the default dictionary.
func Normalize(raw string) CanonicalQuery {
	return defaultNormalizer.Normalize(raw)
}

// Expand expands acronyms in raw with the default dictionary.
func Expand(raw string) string {
	return defaultNormalizer.Expand(raw)
}

// GenerateVariants returns up to max phrasings of raw with the default dictionary.
func GenerateVariants(raw string, max int) []string {
	return defaultNormalizer.GenerateVariants(raw, max)
}

// Normalize builds the canonical form of raw. It never fails: malformed input
// degrades to whatever tokens can be recovered, possibly none.
func (n *Normalizer) Normalize(raw string) CanonicalQuery {
	tokens := Tokenize(raw)
	sort.Strings(tokens)

	return CanonicalQuery{
		Raw:        raw,
		Normalized: strings.Join(tokens, " "),
		Tokens:     tokens,
		Expanded:   n.Expand(raw),
		Variants:   n.GenerateVariants(raw, n.maxVariants),
	}
}

// MaxVariants returns the configured variant limit.
func (n *Normalizer) MaxVariants() int {
	return n.maxVariants
}

// Tokenize lowercases s, turns every non letter/digit rune into a separator
// and returns the remaining tokens in their original order.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Jaccard returns the token-set similarity |A∩B| / |A∪B| of two token lists.
// Two empty sets score 0 so that blank queries never match each other.
func Jaccard(a, b []string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
