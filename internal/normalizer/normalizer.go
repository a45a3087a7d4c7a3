// Package normalizer implements the pure, source-dispatched lead
// transformer (spec component C4): normalize(rawRecord, source) ->
// NormalizedLead. It follows the teacher's datanorm.NormalizeRecord
// field-by-field switch and value-cleaning helpers (normalizeEmail,
// titleCase, clamp), generalized from CSV subscriber rows to
// heterogeneous pixel/intent/apollo/manual lead payloads.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// NormalizedLead is the deterministic output of Normalize.
type NormalizedLead struct {
	Email         string
	FirstName     string
	LastName      string
	Title         string
	Company       string
	CompanyDomain string
	Industry      string
	EmployeeCount int    // 0 if unknown
	Revenue       string // canonical $NNK|M|B form, "" if unknown
	Warnings      []string
	Valid         bool // false if a required field (email, company) is missing
}

// Normalize cleans and validates one raw record from the given source.
// It never errors; validation failures and parse ambiguities are
// reported as Warnings, and Valid is false only when a required field
// (email, company) is missing.
func Normalize(raw map[string]any, source string) NormalizedLead {
	var n NormalizedLead

	n.Email = normalizeEmail(stringField(raw, "email"))
	n.FirstName = titleCase(stringField(raw, "first_name"))
	n.LastName = titleCase(stringField(raw, "last_name"))
	n.Title = strings.TrimSpace(stringField(raw, "title"))
	n.Company = strings.TrimSpace(stringField(raw, "company"))
	n.CompanyDomain = normalizeDomain(stringField(raw, "company_domain"))
	n.Industry = strings.TrimSpace(stringField(raw, "industry"))

	if raw_, ok := firstNonEmpty(raw, "employee_count", "employees", "company_size"); ok {
		count, warn := ParseEmployeeCount(raw_)
		n.EmployeeCount = count
		if warn != "" {
			n.Warnings = append(n.Warnings, warn)
		}
	}

	if raw_, ok := firstNonEmpty(raw, "revenue", "annual_revenue"); ok {
		rev, warn := ParseRevenue(raw_)
		n.Revenue = rev
		if warn != "" {
			n.Warnings = append(n.Warnings, warn)
		}
	}

	if n.Email == "" {
		n.Warnings = append(n.Warnings, "missing required field: email")
	} else if !emailRegex.MatchString(n.Email) {
		n.Warnings = append(n.Warnings, fmt.Sprintf("malformed email: %q", n.Email))
		n.Email = ""
	}
	if n.Company == "" {
		n.Warnings = append(n.Warnings, "missing required field: company")
	}

	n.Valid = n.Email != "" && n.Company != ""
	_ = source // source selects the dispatch path upstream; fields normalize identically once extracted.
	return n
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func firstNonEmpty(raw map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v := stringField(raw, k); v != "" {
			return v, true
		}
	}
	return "", false
}

func normalizeEmail(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(e, "\"'<> ")
}

func normalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, "/")
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

var rangeRegex = regexp.MustCompile(`^\s*([\d,]+)\s*-\s*([\d,]+)\s*$`)
var numberRegex = regexp.MustCompile(`^\s*([\d,]+)\+?\s*$`)

// ParseEmployeeCount parses "50-100" -> 75 (midpoint), "500+" -> 500,
// "1200" -> 1200. Returns a warning string (non-empty) when the input
// couldn't be parsed at all.
func ParseEmployeeCount(raw string) (int, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ""
	}

	if m := rangeRegex.FindStringSubmatch(raw); m != nil {
		lo, errLo := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		hi, errHi := strconv.Atoi(strings.ReplaceAll(m[2], ",", ""))
		if errLo == nil && errHi == nil {
			return (lo + hi) / 2, ""
		}
	}

	if m := numberRegex.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err == nil {
			return n, ""
		}
	}

	return 0, fmt.Sprintf("unparseable employee count: %q", raw)
}

var revenueRegex = regexp.MustCompile(`(?i)^\s*\$?\s*([\d.,]+)\s*([kmb])?\s*$`)
var revenueRangeRegex = regexp.MustCompile(`(?i)^\s*\$?\s*([\d.,]+)\s*([kmb])?\s*-\s*\$?\s*([\d.,]+)\s*([kmb])?\s*$`)

// ParseRevenue normalizes revenue strings into canonical $NNK|M|B form.
// Handles ranges (midpoint, e.g. "$10M-$50M" -> "$30M"), single values
// with K/M/B suffixes, and bare numbers (values under 1000 are assumed
// to already be expressed in millions, per spec section 4.5's revenue
// rule, applied identically here for normalization consistency).
func ParseRevenue(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	if m := revenueRangeRegex.FindStringSubmatch(raw); m != nil {
		lo, okLo := revenueToMillions(m[1], m[2])
		hi, okHi := revenueToMillions(m[3], m[4])
		if okLo && okHi {
			return formatRevenueMillions((lo + hi) / 2), ""
		}
	}

	if m := revenueRegex.FindStringSubmatch(raw); m != nil {
		millions, ok := revenueToMillions(m[1], m[2])
		if ok {
			return formatRevenueMillions(millions), ""
		}
	}

	return "", fmt.Sprintf("unparseable revenue: %q", raw)
}

func revenueToMillions(numStr, suffix string) (float64, bool) {
	numStr = strings.ReplaceAll(numStr, ",", "")
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(suffix) {
	case "b":
		return n * 1000, true
	case "k":
		return n / 1000, true
	case "m", "":
		if suffix == "" && n < 1000 {
			return n, true // bare numbers under 1000 assumed to be millions
		}
		if suffix == "" {
			return n / 1_000_000, true // large bare number assumed to be raw dollars
		}
		return n, true
	default:
		return 0, false
	}
}

func formatRevenueMillions(millions float64) string {
	switch {
	case millions >= 1000:
		return fmt.Sprintf("$%sB", trimTrailingZero(millions/1000))
	case millions < 1:
		return fmt.Sprintf("$%sK", trimTrailingZero(millions*1000))
	default:
		return fmt.Sprintf("$%sM", trimTrailingZero(millions))
	}
}

func trimTrailingZero(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	s = strings.TrimSuffix(s, ".0")
	return s
}
