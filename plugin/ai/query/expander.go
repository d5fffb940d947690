package query

import (
	"regexp"
	"strings"
)

// Acronym maps a short form to its long forms. The first long form is the
// primary expansion.
type Acronym struct {
	Short     string
	LongForms []string
}

// Dictionary is an ordered acronym table. Expansion walks it in declaration
// order, so earlier entries win when two acronyms share a long form.
type Dictionary struct {
	entries  []Acronym
	patterns []*regexp.Regexp
}

// NewDictionary compiles a word-boundary, case-insensitive matcher for every
// acronym. Entries without a short form or long forms are dropped.
func NewDictionary(entries ...Acronym) *Dictionary {
	d := &Dictionary{}
	for _, e := range entries {
		short := strings.TrimSpace(e.Short)
		if short == "" || len(e.LongForms) == 0 {
			continue
		}
		d.entries = append(d.entries, Acronym{Short: short, LongForms: e.LongForms})
		d.patterns = append(d.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(short)+`\b`))
	}
	return d
}

// DefaultDictionary returns the built-in acronym table for the knowledge base.
func DefaultDictionary() *Dictionary {
	return NewDictionary(
		Acronym{Short: "AOMA", LongForms: []string{"Asset and Offering Management Application"}},
		Acronym{Short: "USM", LongForms: []string{"Unified Session Manager"}},
		Acronym{Short: "DAM", LongForms: []string{"Digital Asset Management"}},
		Acronym{Short: "ISRC", LongForms: []string{"International Standard Recording Code"}},
		Acronym{Short: "UPC", LongForms: []string{"Universal Product Code"}},
		Acronym{Short: "DDP", LongForms: []string{"Disc Description Protocol"}},
		Acronym{Short: "QC", LongForms: []string{"Quality Control", "Quality Check"}},
		Acronym{Short: "RAG", LongForms: []string{"Retrieval Augmented Generation"}},
		Acronym{Short: "SSO", LongForms: []string{"Single Sign-On"}},
		Acronym{Short: "API", LongForms: []string{"Application Programming Interface"}},
	)
}

// Len returns the number of acronyms in the dictionary.
func (d *Dictionary) Len() int {
	return len(d.entries)
}

// Expand inserts " (<long form>)" right after the first occurrence of every
// known acronym in raw. Word order is never changed. An acronym is skipped
// when any of its long forms already appears in raw, which makes
// Expand(Expand(q)) == Expand(q).
func (n *Normalizer) Expand(raw string) string {
	return n.dict.expand(raw)
}

func (d *Dictionary) expand(raw string) string {
	expanded := raw
	used := make(map[string]struct{})

	for i, entry := range d.entries {
		loc := d.patterns[i].FindStringIndex(expanded)
		if loc == nil {
			continue
		}
		if containsAnyFold(raw, entry.LongForms) {
			continue
		}

		var longForm string
		for _, lf := range entry.LongForms {
			if _, seen := used[strings.ToLower(lf)]; !seen {
				longForm = lf
				break
			}
		}
		if longForm == "" {
			continue
		}
		used[strings.ToLower(longForm)] = struct{}{}

		expanded = expanded[:loc[1]] + " (" + longForm + ")" + expanded[loc[1]:]
	}

	return expanded
}

func containsAnyFold(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
