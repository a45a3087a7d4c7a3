package domain

import "time"

// PromptDefinition names a versioned, tenant-scoped opaque prompt (e.g.
// "sequence-writer", "qualification", "reviewer").
type PromptDefinition struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
}

// PromptVersionStatus enumerates a version's lifecycle.
type PromptVersionStatus string

const (
	PromptVersionActive  PromptVersionStatus = "active"
	PromptVersionTesting PromptVersionStatus = "testing"
	PromptVersionRetired PromptVersionStatus = "retired"
)

// PromptVersion stores the full prompt text plus the ids of learned
// patterns currently injected into it. Exactly one version per
// (tenant, name) may be status=active at a time.
type PromptVersion struct {
	ID               string              `json:"id" db:"id"`
	TenantID         string              `json:"tenant_id" db:"tenant_id"`
	PromptName       string              `json:"prompt_name" db:"prompt_name"`
	Version          int                 `json:"version" db:"version"`
	Body             string              `json:"body" db:"body"`
	Status           PromptVersionStatus `json:"status" db:"status"`
	InjectedPatterns []string            `json:"injected_patterns" db:"injected_patterns"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
}

// PromptABTestStatus enumerates an A/B test's lifecycle.
type PromptABTestStatus string

const (
	ABTestRunning     PromptABTestStatus = "running"
	ABTestConcluded   PromptABTestStatus = "concluded"
)

// PromptABTest compares a control PromptVersion against one or more
// variants, arbitrated by positive-reply-rate lift.
type PromptABTest struct {
	ID               string             `json:"id" db:"id"`
	TenantID         string             `json:"tenant_id" db:"tenant_id"`
	PromptName       string             `json:"prompt_name" db:"prompt_name"`
	ControlVersionID string             `json:"control_version_id" db:"control_version_id"`
	VariantVersionIDs []string          `json:"variant_version_ids" db:"variant_version_ids"`
	SplitPercent     int                `json:"split_percent" db:"split_percent"`
	MinSamplePerVariant int             `json:"min_sample_per_variant" db:"min_sample_per_variant"`
	MaxRuntimeDays   int                `json:"max_runtime_days" db:"max_runtime_days"`
	Status           PromptABTestStatus `json:"status" db:"status"`
	WinnerVersionID  string             `json:"winner_version_id,omitempty" db:"winner_version_id"`
	StartedAt        time.Time          `json:"started_at" db:"started_at"`
	ConcludedAt      *time.Time         `json:"concluded_at,omitempty" db:"concluded_at"`
}

// HasReachedSampleFloor reports whether every variant (and control) has
// at least MinSamplePerVariant observations.
func (t *PromptABTest) HasReachedSampleFloor(samples map[string]int) bool {
	if samples[t.ControlVersionID] < t.MinSamplePerVariant {
		return false
	}
	for _, v := range t.VariantVersionIDs {
		if samples[v] < t.MinSamplePerVariant {
			return false
		}
	}
	return true
}

// HasExpired reports whether the test has run past MaxRuntimeDays.
func (t *PromptABTest) HasExpired(now time.Time) bool {
	return now.Sub(t.StartedAt) >= time.Duration(t.MaxRuntimeDays)*24*time.Hour
}
