package domain

import "time"

// Tenant is the root isolation unit. Every mutable row in the system
// carries a TenantID and every query filters by it.
type Tenant struct {
	ID                    string         `json:"id" db:"id"`
	Name                  string         `json:"name" db:"name"`
	ActiveEmailProvider   string         `json:"active_email_provider" db:"active_email_provider"`
	ActiveLinkedInProvider string        `json:"active_linkedin_provider" db:"active_linkedin_provider"`
	EnabledChannels       []string       `json:"enabled_channels" db:"enabled_channels"`
	ICP                   ICP            `json:"icp" db:"icp"`
	TargetingPreferences  TargetingPrefs `json:"targeting_preferences" db:"targeting_preferences"`
	LLMProvider           string         `json:"llm_provider" db:"llm_provider"`
	LLMModel              string         `json:"llm_model" db:"llm_model"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// Brand is a child of Tenant. Its voice/tone and value proposition steer
// generation; an optional brand-scoped ICP overrides the tenant ICP.
type Brand struct {
	ID                 string    `json:"id" db:"id"`
	TenantID           string    `json:"tenant_id" db:"tenant_id"`
	Name               string    `json:"name" db:"name"`
	Voice              string    `json:"voice" db:"voice"`
	Tone               string    `json:"tone" db:"tone"`
	ValueProposition   string    `json:"value_proposition" db:"value_proposition"`
	Differentiators    []string  `json:"differentiators" db:"differentiators"`
	ICP                *ICP      `json:"icp,omitempty" db:"icp"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// EffectiveICP returns the brand's ICP when set, else falls back to the
// tenant's ICP.
func (b *Brand) EffectiveICP(tenantICP ICP) ICP {
	if b.ICP != nil {
		return *b.ICP
	}
	return tenantICP
}

// AccountCriterion is one weighted dimension of an Ideal Customer Profile
// (industry, company size band, revenue band, ...).
type AccountCriterion struct {
	Field    string   `json:"field"`
	Values   []string `json:"values"`
	Priority int      `json:"priority"` // higher = evaluated first
}

// Persona is a target buyer role used both for qualification and for
// synthesizing Apollo search parameters.
type Persona struct {
	Title          string   `json:"title"`
	SeniorityLevel string   `json:"seniority_level"`
	Department     string   `json:"department"`
}

// Trigger is a textual signal that indicates buying readiness. Source
// names the location to search (personal_linkedin, company_linkedin,
// web_search, news).
type Trigger struct {
	Name           string   `json:"name"`
	Source         string   `json:"source"`
	WhatToLookFor  []string `json:"what_to_look_for"`
	Impact         int      `json:"impact"` // 0..100, static weight for this trigger kind
}

// DisqualifierRule names a title/criterion that forces disqualification
// regardless of other signals.
type DisqualifierRule struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
	Reason string   `json:"reason"`
}

// ICP is the Ideal Customer Profile: account criteria, target personas,
// and buying-readiness triggers.
type ICP struct {
	AccountCriteria []AccountCriterion `json:"account_criteria"`
	Personas        []Persona          `json:"personas"`
	Triggers        []Trigger          `json:"triggers"`
	Disqualifiers   []DisqualifierRule `json:"disqualifiers"`
}

// TargetingPrefs holds per-field weighted adjustments applied on top of
// the base intent score. A weight of 1.0 is neutral.
type TargetingPrefs struct {
	IndustryWeights map[string]float64 `json:"industry_weights,omitempty"`
	TitleWeights    map[string]float64 `json:"title_weights,omitempty"`
	SizeWeights     map[string]float64 `json:"size_weights,omitempty"`
}
