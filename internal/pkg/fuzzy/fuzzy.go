// Package fuzzy provides normalized string-similarity matching used by
// the qualification stage's company-name relationship probe (spec
// section 4.7). New to this repo: the teacher has no fuzzy-matching
// need, so this wraps a real pack dependency (agnivade/levenshtein,
// carried as an indirect dep in the jordigilh-kubernaut example) rather
// than hand-rolling edit distance.
package fuzzy

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// CompanyNameSimilarity returns a 0..1 similarity score between two
// company names, case- and suffix-insensitive ("Acme Corp" vs "ACME,
// Inc." score close to 1.0).
func CompanyNameSimilarity(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

var corporateSuffixes = []string{
	" inc", " incorporated", " corp", " corporation", " llc", " ltd", " limited",
	" co", " company", " plc", " gmbh", " lp", " llp",
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".")
	s = strings.ReplaceAll(s, ",", "")
	for _, suf := range corporateSuffixes {
		s = strings.TrimSuffix(s, suf)
	}
	return strings.TrimSpace(s)
}

// IsSameCompany reports whether two company names likely refer to the
// same organization, using a fixed 0.85 similarity threshold.
func IsSameCompany(a, b string) bool {
	return CompanyNameSimilarity(a, b) >= 0.85
}
