package query

import (
	"strings"
)

// enrichmentSuffix widens recall for definitional questions.
const enrichmentSuffix = "overview purpose and key features"

type prefixRewrite struct {
	prefix       string
	replacements []string
}

// Checked in order; the first matching prefix wins.
var prefixRewrites = []prefixRewrite{
	{prefix: "what is ", replacements: []string{"explain ", "define "}},
	{prefix: "what are ", replacements: []string{"explain ", "list "}},
	{prefix: "how do i ", replacements: []string{"how to ", "steps to "}},
	{prefix: "how to ", replacements: []string{"steps to "}},
	{prefix: "why does ", replacements: []string{"reason "}},
}

// GenerateVariants returns up to max distinct phrasings of raw, original
// first, then the acronym-expanded form, then question-prefix rewrites and
// finally an enriched form for "what is" questions. Distinctness is case
// insensitive. max <= 0 uses the normalizer's limit.
func (n *Normalizer) GenerateVariants(raw string, max int) []string {
	if max <= 0 {
		max = n.maxVariants
	}

	original := strings.TrimSpace(raw)
	variants := make([]string, 0, max)
	seen := make(map[string]struct{}, max)
	add := func(v string) bool {
		v = strings.TrimSpace(v)
		if v == "" {
			return len(variants) < max
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			return len(variants) < max
		}
		seen[key] = struct{}{}
		variants = append(variants, v)
		return len(variants) < max
	}

	if !add(original) {
		return variants
	}
	if !add(n.dict.expand(original)) {
		return variants
	}

	question := strings.TrimRight(original, "?!. ")
	for _, rw := range prefixRewrites {
		subject, ok := cutPrefixFold(question, rw.prefix)
		if !ok || strings.TrimSpace(subject) == "" {
			continue
		}
		for _, repl := range rw.replacements {
			if !add(repl + subject) {
				return variants
			}
		}
		if rw.prefix == "what is " {
			if !add(subject + " " + enrichmentSuffix) {
				return variants
			}
		}
		break
	}

	return variants
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
