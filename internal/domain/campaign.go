package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// CampaignMode selects which channels a campaign's sequences deploy to.
type CampaignMode string

const (
	ModeEmailOnly    CampaignMode = "email_only"
	ModeLinkedInOnly CampaignMode = "linkedin_only"
	ModeMultiChannel CampaignMode = "multi_channel"
)

// DataSourceKind enumerates where a campaign pulls leads from.
type DataSourceKind string

const (
	SourceKindPixel  DataSourceKind = "pixel"
	SourceKindIntent DataSourceKind = "intent"
	SourceKindApollo DataSourceKind = "apollo"
	SourceKindCSV    DataSourceKind = "csv"
	SourceKindManual DataSourceKind = "manual"
)

// Campaign is a child of Brand, pinned to Tenant. Ingestion only occurs
// while Status == CampaignActive.
type Campaign struct {
	ID                      string          `json:"id" db:"id"`
	TenantID                string          `json:"tenant_id" db:"tenant_id"`
	BrandID                 string          `json:"brand_id" db:"brand_id"`
	Name                    string          `json:"name" db:"name"`
	Status                  CampaignStatus  `json:"status" db:"status"`
	Mode                    CampaignMode    `json:"mode" db:"mode"`
	DataSourceKind          DataSourceKind  `json:"data_source_kind" db:"data_source_kind"`
	DataSourceConfig        map[string]any  `json:"data_source_config" db:"data_source_config"`
	EmailStepCount          int             `json:"email_step_count" db:"email_step_count"`
	LinkedInStepCount       int             `json:"linkedin_step_count" db:"linkedin_step_count"`
	WaitForConnection       bool            `json:"wait_for_connection" db:"wait_for_connection"`
	ConnectionTimeoutHours  int             `json:"connection_timeout_hours" db:"connection_timeout_hours"`
	LinkedInFirst           bool            `json:"linkedin_first" db:"linkedin_first"`
	CustomInstructions      string          `json:"custom_instructions" db:"custom_instructions"`

	LeadsIngested   int `json:"leads_ingested" db:"leads_ingested"`
	LeadsContacted  int `json:"leads_contacted" db:"leads_contacted"`
	LeadsReplied    int `json:"leads_replied" db:"leads_replied"`
	LeadsConverted  int `json:"leads_converted" db:"leads_converted"`

	LastIngestedAt *time.Time `json:"last_ingested_at" db:"last_ingested_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`

	// Version supports optimistic-locked counter updates.
	Version int `json:"-" db:"version"`
}

// IsActive reports whether ingestion may proceed against this campaign.
func (c *Campaign) IsActive() bool { return c.Status == CampaignActive }

// IsTerminal reports whether the campaign is done accepting new leads.
func (c *Campaign) IsTerminal() bool { return c.Status == CampaignCompleted }
