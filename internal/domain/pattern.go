package domain

import "time"

// PatternStatus enumerates a LearnedPattern's lifecycle.
type PatternStatus string

const (
	PatternCandidate PatternStatus = "candidate"
	PatternValidated PatternStatus = "validated"
	PatternActive    PatternStatus = "active"
	PatternRetired   PatternStatus = "retired"
)

// LearnedPattern is an (element-type combination, scope) tuple whose
// observed engagement lift is significant enough to influence future
// prompts.
type LearnedPattern struct {
	ID          string        `json:"id" db:"id"`
	TenantID    string        `json:"tenant_id" db:"tenant_id"`
	ElementTypes []ElementType `json:"element_types" db:"element_types"`
	ElementValues []string     `json:"element_values" db:"element_values"`
	Scope       string        `json:"scope,omitempty" db:"scope"`

	SampleSize  int     `json:"sample_size" db:"sample_size"`
	Confidence  float64 `json:"confidence" db:"confidence"`
	Lift        float64 `json:"lift" db:"lift"` // current reply-rate lift over baseline

	Status      PatternStatus `json:"status" db:"status"`
	RAGDocumentID string      `json:"rag_document_id,omitempty" db:"rag_document_id"`

	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Validation thresholds from spec section 4.13 step 3.
const (
	PatternMinSample     = 50
	PatternMinConfidence = 0.7
	PatternMinLift       = 1.5
	PatternDeprecateLift = 0.7
)

// MeetsValidationBar reports whether a candidate pattern should be
// promoted to validated.
func (p *LearnedPattern) MeetsValidationBar() bool {
	return p.SampleSize >= PatternMinSample && p.Confidence >= PatternMinConfidence && p.Lift >= PatternMinLift
}

// ShouldDeprecate reports whether an active pattern's lift has fallen
// below the deprecation floor.
func (p *LearnedPattern) ShouldDeprecate() bool {
	return p.Status == PatternActive && p.Lift < PatternDeprecateLift
}

// RAGDocument is a generated knowledge-base entry backing a learned
// pattern (or a static fundamentals/ICP document). Type "learned" rows
// are generated by the LearningLoop; other types are authored out of
// band and only read here.
type RAGDocument struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id,omitempty" db:"tenant_id"`
	BrandID    string    `json:"brand_id,omitempty" db:"brand_id"`
	Type       string    `json:"type" db:"type"` // fundamentals, icp, learned
	PatternID  string    `json:"pattern_id,omitempty" db:"pattern_id"`
	Title      string    `json:"title" db:"title"`
	Body       string    `json:"body" db:"body"`
	Deprecated bool      `json:"deprecated" db:"deprecated"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
