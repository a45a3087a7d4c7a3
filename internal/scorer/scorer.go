// Package scorer implements the two pure scoring functions of spec
// component C5: intentScore (industry/revenue/title/size/data-quality
// fit against an ICP) and pageIntentScore (pixel visit-history
// intent). Both are deterministic and side-effect free; all inputs are
// passed explicitly, grounded on the teacher's datanorm quality-score
// composition (internal/datanorm/value_normalizer.go computeQualityScore)
// generalized from a single weighted sum to the five-component and
// four-component breakdowns spec section 4.5 describes.
package scorer

import (
	"strconv"
	"strings"
	"time"
)

// Tier buckets a total score into a coarse label.
type Tier string

const (
	TierStrong Tier = "strong"
	TierMedium Tier = "medium"
	TierWeak   Tier = "weak"
)

func tierFor(total int) Tier {
	switch {
	case total >= 70:
		return TierStrong
	case total >= 40:
		return TierMedium
	default:
		return TierWeak
	}
}

// IntentBreakdown is intentScore's five bounded components.
type IntentBreakdown struct {
	Industry     int `json:"industry"`
	Revenue      int `json:"revenue"`
	Title        int `json:"title"`
	CompanySize  int `json:"company_size"`
	DataQuality  int `json:"data_quality"`
}

// IntentResult is intentScore's return value.
type IntentResult struct {
	TotalScore int             `json:"total_score"`
	Breakdown  IntentBreakdown `json:"breakdown"`
	Tier       Tier            `json:"tier"`
}

// LeadFields is the subset of a Lead's denormalized fields intentScore
// reads.
type LeadFields struct {
	Industry      string
	Revenue       string // canonical $NNK|M|B form
	Title         string
	EmployeeCount int
	DataQuality   float64 // 0..1, e.g. from enrichment confidence
}

// Preferences are a tenant's targeting-preference weights (spec section
// 3, Tenant.TargetingPreferences), weight 1.0 is neutral.
type Preferences struct {
	IndustryWeights map[string]float64
	TitleWeights    map[string]float64
	SizeWeights     map[string]float64
}

var targetIndustries = []string{"saas", "software", "technology", "fintech", "e-commerce", "retail"}
var adjacentIndustries = []string{"healthcare", "manufacturing", "logistics", "education", "media"}

var titleRules = []struct {
	substr string
	points int
}{
	{"chief executive", 20}, {"ceo", 20}, {"chief revenue", 20}, {"cro", 20},
	{"chief marketing", 18}, {"cmo", 18}, {"chief growth", 18},
	{"vp ", 16}, {"vice president", 16},
	{"head of", 14}, {"director", 12},
	{"manager", 8}, {"lead", 6},
}

var disqualifierTitles = []string{"intern", "student", "assistant", "retired"}

// IntentScore computes a 0..100 fit score against the five components
// described in spec section 4.5. preferences may be nil.
func IntentScore(lead LeadFields, preferences *Preferences) IntentResult {
	var b IntentBreakdown

	titleLower := strings.ToLower(lead.Title)
	disqualified := false
	for _, d := range disqualifierTitles {
		if strings.Contains(titleLower, d) {
			disqualified = true
			break
		}
	}

	b.Industry = scoreIndustry(lead.Industry)
	b.Revenue = scoreRevenue(lead.Revenue)
	if disqualified {
		b.Title = 0
	} else {
		b.Title = scoreTitle(titleLower)
	}
	b.CompanySize = scoreCompanySize(lead.EmployeeCount)
	b.DataQuality = int(clamp(lead.DataQuality, 0, 1) * 20)

	if preferences != nil {
		b.Industry = applyWeight(b.Industry, 25, matchWeight(preferences.IndustryWeights, lead.Industry))
		b.Title = applyWeight(b.Title, 20, matchWeight(preferences.TitleWeights, lead.Title))
		b.CompanySize = applyWeight(b.CompanySize, 15, matchWeightSize(preferences.SizeWeights, lead.EmployeeCount))
	}

	total := b.Industry + b.Revenue + b.Title + b.CompanySize + b.DataQuality
	total = int(clamp(float64(total), 0, 100))

	return IntentResult{TotalScore: total, Breakdown: b, Tier: tierFor(total)}
}

func scoreIndustry(industry string) int {
	lower := strings.ToLower(industry)
	if lower == "" {
		return 0
	}
	for _, t := range targetIndustries {
		if strings.Contains(lower, t) {
			return 25
		}
	}
	for _, a := range adjacentIndustries {
		if strings.Contains(lower, a) {
			return 12
		}
	}
	return 5
}

func scoreRevenue(revenue string) int {
	millions, ok := parseRevenueMillions(revenue)
	if !ok {
		return 0
	}
	switch {
	case millions >= 100:
		return 20
	case millions >= 20:
		return 16
	case millions >= 5:
		return 12
	case millions >= 1:
		return 6
	default:
		return 2
	}
}

// parseRevenueMillions parses the canonical $NNK|M|B form produced by
// the normalizer back into a millions-of-dollars float.
func parseRevenueMillions(revenue string) (float64, bool) {
	s := strings.TrimPrefix(strings.TrimSpace(revenue), "$")
	if s == "" {
		return 0, false
	}
	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	switch suffix {
	case 'B', 'b':
		return n * 1000, true
	case 'M', 'm':
		return n, true
	case 'K', 'k':
		return n / 1000, true
	default:
		return 0, false
	}
}

func scoreTitle(titleLower string) int {
	for _, rule := range titleRules {
		if strings.Contains(titleLower, rule.substr) {
			return rule.points
		}
	}
	return 0
}

func scoreCompanySize(employeeCount int) int {
	switch {
	case employeeCount <= 0:
		return 0
	case employeeCount < 10:
		return 5
	case employeeCount < 50:
		return 10
	case employeeCount < 500:
		return 15
	case employeeCount < 5000:
		return 12
	default:
		return 8
	}
}

// matchWeight returns the weight for a case-insensitive substring match
// against any configured key, or 1.0 (neutral) if none match.
func matchWeight(weights map[string]float64, value string) float64 {
	if weights == nil {
		return 1.0
	}
	lower := strings.ToLower(value)
	for k, w := range weights {
		if strings.Contains(lower, strings.ToLower(k)) {
			return w
		}
	}
	return 1.0
}

func matchWeightSize(weights map[string]float64, employeeCount int) float64 {
	if weights == nil || employeeCount <= 0 {
		return 1.0
	}
	bucket := sizeBucket(employeeCount)
	if w, ok := weights[bucket]; ok {
		return w
	}
	return 1.0
}

func sizeBucket(employeeCount int) string {
	switch {
	case employeeCount < 10:
		return "1-9"
	case employeeCount < 50:
		return "10-49"
	case employeeCount < 500:
		return "50-499"
	case employeeCount < 5000:
		return "500-4999"
	default:
		return "5000+"
	}
}

// applyWeight adjusts a base score by a preference weight: 1.0 is
// neutral, >1.0 adds a fraction of basePoints, <1.0 subtracts.
func applyWeight(score, basePoints int, weight float64) int {
	if weight == 1.0 {
		return score
	}
	delta := float64(basePoints) * (weight - 1.0)
	adjusted := float64(score) + delta
	return int(clamp(adjusted, 0, float64(basePoints)))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// PageWeight is one entry of the fixed per-page relevance table.
type pageWeight struct {
	path   string
	weight int
}

var pageWeights = []pageWeight{
	{"/pricing", 30},
	{"/demo", 28},
	{"/case-studies", 20},
	{"/product", 18},
	{"/integrations", 14},
	{"/blog", 6},
}

const maxPageRelevance = 40

// buyingSequences are ordered page-visit subsequences that, if present
// in order anywhere in the visit history, award the max sequence bonus.
var buyingSequences = [][]string{
	{"/pricing", "/demo"},
	{"/product", "/pricing"},
	{"/case-studies", "/pricing", "/demo"},
}

const maxSequenceBonus = 20

// Visit is one pixel page-view event.
type Visit struct {
	Path      string
	VisitedAt time.Time
}

// PageIntentBreakdown is pageIntentScore's four bounded components.
type PageIntentBreakdown struct {
	PageRelevance  int `json:"page_relevance"`
	VisitFrequency int `json:"visit_frequency"`
	Recency        int `json:"recency"`
	SequenceBonus  int `json:"sequence_bonus"`
}

// PageIntentResult is pageIntentScore's return value.
type PageIntentResult struct {
	TotalScore int                 `json:"total_score"`
	Breakdown  PageIntentBreakdown `json:"breakdown"`
}

// PageIntentScore scores a pixel visit history against page relevance,
// visit frequency, recency, and buying-sequence bonus, per spec section
// 4.5. now is passed explicitly to keep the function pure.
func PageIntentScore(visits []Visit, now time.Time) PageIntentResult {
	var b PageIntentBreakdown
	if len(visits) == 0 {
		return PageIntentResult{}
	}

	var relevanceSum int
	var maxWeight int
	for _, v := range visits {
		w := weightFor(v.Path)
		relevanceSum += w
		if w > maxWeight {
			maxWeight = w
		}
	}
	// Normalize against the best single page seen plus a small bonus
	// for additional relevant pages, capped at maxPageRelevance.
	normalized := maxWeight + (relevanceSum-maxWeight)/4
	b.PageRelevance = clampInt(normalized, 0, maxPageRelevance)

	b.VisitFrequency = clampInt(len(visits)*2, 0, 20)

	lastSeen := visits[0].VisitedAt
	for _, v := range visits {
		if v.VisitedAt.After(lastSeen) {
			lastSeen = v.VisitedAt
		}
	}
	daysSince := now.Sub(lastSeen).Hours() / 24
	b.Recency = recencyScore(daysSince)

	b.SequenceBonus = sequenceBonus(visits)

	total := b.PageRelevance + b.VisitFrequency + b.Recency + b.SequenceBonus
	return PageIntentResult{TotalScore: clampInt(total, 0, 100), Breakdown: b}
}

func weightFor(path string) int {
	for _, pw := range pageWeights {
		if pw.path == path {
			return pw.weight
		}
	}
	return 4 // unrecognized page: minimal baseline relevance
}

func recencyScore(daysSince float64) int {
	switch {
	case daysSince <= 1:
		return 20
	case daysSince <= 3:
		return 15
	case daysSince <= 7:
		return 10
	case daysSince <= 14:
		return 5
	default:
		return 0
	}
}

func sequenceBonus(visits []Visit) int {
	paths := make([]string, len(visits))
	for i, v := range visits {
		paths[i] = v.Path
	}
	for _, seq := range buyingSequences {
		if containsInOrder(paths, seq) {
			return maxSequenceBonus
		}
	}
	return 0
}

func containsInOrder(haystack, needle []string) bool {
	idx := 0
	for _, h := range haystack {
		if idx < len(needle) && h == needle[idx] {
			idx++
		}
	}
	return idx == len(needle)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
