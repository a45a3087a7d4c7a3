package domain

import "time"

// LeadSource enumerates where a lead record first arrived from. Priority
// for upgrades (never downgrades) is pixel > intent > apollo > manual.
type LeadSource string

const (
	SourcePixel  LeadSource = "pixel"
	SourceIntent LeadSource = "intent"
	SourceApollo LeadSource = "apollo"
	SourceManual LeadSource = "manual"
)

// sourcePriority ranks sources for the upgrade-only rule in spec section 3.
// Manual is intentionally lowest: it never upgrades anything and is never
// upgraded over by a later manual re-import.
var sourcePriority = map[LeadSource]int{
	SourcePixel:  3,
	SourceIntent: 2,
	SourceApollo: 1,
	SourceManual: 0,
}

// Outranks reports whether source s should replace current under the
// fixed upgrade-only priority rule.
func (s LeadSource) Outranks(current LeadSource) bool {
	return sourcePriority[s] > sourcePriority[current]
}

// LeadStatus enumerates the lifecycle a lead moves through.
type LeadStatus string

const (
	LeadIngested      LeadStatus = "ingested"
	LeadHumanReview    LeadStatus = "human_review"
	LeadDisqualified  LeadStatus = "disqualified"
	LeadResearched    LeadStatus = "researched"
	LeadSequenceReady LeadStatus = "sequence_ready"
	LeadActive        LeadStatus = "active"
	LeadReplied       LeadStatus = "replied"
	LeadCold          LeadStatus = "cold"
	LeadConverted     LeadStatus = "converted"
)

// QualificationDecision is the outcome of the qualification stage.
type QualificationDecision string

const (
	DecisionYES    QualificationDecision = "YES"
	DecisionNO     QualificationDecision = "NO"
	DecisionReview QualificationDecision = "REVIEW"
)

// Lead is unique by (TenantID, Email). Created by the Normalizer at
// first sight; mutated only by stage handlers; never deleted on the
// core path.
type Lead struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	Email      string `json:"email" db:"email"`

	FirstName          string `json:"first_name" db:"first_name"`
	LastName           string `json:"last_name" db:"last_name"`
	JobTitle           string `json:"job_title" db:"job_title"`
	CompanyName        string `json:"company_name" db:"company_name"`
	CompanyDomain      string `json:"company_domain" db:"company_domain"`
	CompanyIndustry    string `json:"company_industry" db:"company_industry"`
	CompanyEmployees   *int   `json:"company_employees" db:"company_employees"`
	CompanyRevenue     string `json:"company_revenue" db:"company_revenue"` // canonical $NNK|M|B
	LinkedInURL        string `json:"linkedin_url" db:"linkedin_url"`
	CompanyLinkedInURL string `json:"company_linkedin_url" db:"company_linkedin_url"`

	Source     LeadSource `json:"source" db:"source"`
	VisitCount int        `json:"visit_count" db:"visit_count"`

	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`

	// Presence flags in joined external systems (CRM, support desk, ...)
	ExternalPresence map[string]bool `json:"external_presence" db:"external_presence"`

	Status                  LeadStatus             `json:"status" db:"status"`
	QualificationDecision   *QualificationDecision `json:"qualification_decision" db:"qualification_decision"`
	QualificationReasoning  string                 `json:"qualification_reasoning" db:"qualification_reasoning"`
	QualificationConfidence float64                `json:"qualification_confidence" db:"qualification_confidence"`
	ICPFit                  string                 `json:"icp_fit" db:"icp_fit"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Version int `json:"-" db:"version"`
}

// UpgradeSource applies the source-upgrade-only rule, returning whether
// the lead's source changed.
func (l *Lead) UpgradeSource(incoming LeadSource) bool {
	if incoming.Outranks(l.Source) {
		l.Source = incoming
		return true
	}
	return false
}

// PixelVisit records a single pixel-sourced page visit.
type PixelVisit struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	LeadID    string    `json:"lead_id" db:"lead_id"`
	Page      string    `json:"page" db:"page"`
	TimeOnPageMS int    `json:"time_on_page_ms" db:"time_on_page_ms"`
	VisitedAt time.Time `json:"visited_at" db:"visited_at"`
}
