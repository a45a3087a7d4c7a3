// Package config loads the engine's configuration. Per spec section 6,
// the core recognizes exactly two configuration roots: the StateStore
// connection and a provider-registry configuration. Everything
// tenant-specific (credentials, enabled channels, ICP, ...) is fetched
// from the store at handler entry, never from this file.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all process-level configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	StateStore StateStoreConfig `yaml:"state_store"`
	Providers  ProvidersConfig  `yaml:"providers"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Learning   LearningConfig   `yaml:"learning"`
}

// ServerConfig holds the webhook/edge listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) GetHost() string {
	if c.Host != "" {
		return c.Host
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	return "localhost"
}

// StateStoreConfig is the single StateStore connection root (spec C1).
type StateStoreConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

func (c StateStoreConfig) ConnMaxLifetime() time.Duration {
	if c.ConnMaxLifetimeMinutes == 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// ProvidersConfig is the provider-registry root (spec C3, §4.3). Each
// named adapter config is keyed by the name a Tenant's
// active_email_provider / active_linkedin_provider points to.
type ProvidersConfig struct {
	Bedrock  BedrockConfig             `yaml:"bedrock"`
	Email    map[string]EmailAdapter   `yaml:"email"`
	LinkedIn map[string]LinkedInAdapter `yaml:"linkedin"`
	Enrichment EnrichmentConfig        `yaml:"enrichment"`
	Notifier NotifierConfig            `yaml:"notifier"`
}

// BedrockConfig configures the AWS Bedrock-backed LLM port.
type BedrockConfig struct {
	Region         string `yaml:"region"`
	ModelID        string `yaml:"model_id"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c BedrockConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmailAdapter configures one named email-sending provider (sparkpost,
// ses, ...).
type EmailAdapter struct {
	Kind           string `yaml:"kind"` // sparkpost, ses
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Region         string `yaml:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c EmailAdapter) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LinkedInAdapter configures one named LinkedIn-automation provider.
type LinkedInAdapter struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c LinkedInAdapter) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EnrichmentConfig configures the EnrichmentFetcher/ProspectSearch ports.
type EnrichmentConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	ApolloAPIKey   string `yaml:"apollo_api_key"`
	ApolloBaseURL  string `yaml:"apollo_base_url"`
}

func (c EnrichmentConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NotifierConfig configures the Notifier port (human-review
// escalation). Kind selects the delivery mechanism: "webhook"
// (default) posts to WebhookURL; "ses" emails From -> To via AWS SES.
type NotifierConfig struct {
	Kind       string `yaml:"kind"`
	WebhookURL string `yaml:"webhook_url"`
	Region     string `yaml:"region"`
	FromEmail  string `yaml:"from_email"`
	ToEmail    string `yaml:"to_email"`
}

// EventBusConfig tunes retry/backoff and concurrency for the durable
// runner (spec C2, §4.2).
type EventBusConfig struct {
	RedisAddr          string `yaml:"redis_addr"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseSeconds int    `yaml:"backoff_base_seconds"`
	LockTTLSeconds     int    `yaml:"lock_ttl_seconds"`
}

func (c EventBusConfig) Retries() int {
	if c.MaxRetries == 0 {
		return 3
	}
	return c.MaxRetries
}

func (c EventBusConfig) BackoffBase() time.Duration {
	if c.BackoffBaseSeconds == 0 {
		return 2 * time.Second
	}
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c EventBusConfig) LockTTL() time.Duration {
	if c.LockTTLSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// IngestionConfig tunes the Ingestor (spec C6, §4.6).
type IngestionConfig struct {
	MaxConcurrentCampaigns int `yaml:"max_concurrent_campaigns"`
	MinIntentScore         int `yaml:"min_intent_score"`
	AutoResearchLimit      int `yaml:"auto_research_limit"`
}

func (c IngestionConfig) Concurrency() int {
	if c.MaxConcurrentCampaigns == 0 {
		return 3
	}
	return c.MaxConcurrentCampaigns
}

func (c IngestionConfig) MinScore() int {
	if c.MinIntentScore == 0 {
		return 60
	}
	return c.MinIntentScore
}

func (c IngestionConfig) ResearchLimit() int {
	if c.AutoResearchLimit == 0 {
		return 20
	}
	return c.AutoResearchLimit
}

// LearningConfig tunes the LearningLoop's cron cadence (spec C13, §4.13).
type LearningConfig struct {
	IntervalHours int `yaml:"interval_hours"`
}

func (c LearningConfig) Interval() time.Duration {
	if c.IntervalHours == 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.IntervalHours) * time.Hour
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.StateStore.MaxOpenConns == 0 {
		cfg.StateStore.MaxOpenConns = 20
	}
	if cfg.StateStore.MaxIdleConns == 0 {
		cfg.StateStore.MaxIdleConns = 5
	}
	if cfg.Providers.Bedrock.ModelID == "" {
		cfg.Providers.Bedrock.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.Providers.Bedrock.MaxTokens == 0 {
		cfg.Providers.Bedrock.MaxTokens = 4096
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars so secrets
// can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dsn := os.Getenv("STATE_STORE_DSN"); dsn != "" {
		cfg.StateStore.DSN = dsn
	}
	if region := os.Getenv("BEDROCK_REGION"); region != "" {
		cfg.Providers.Bedrock.Region = region
	}
	if modelID := os.Getenv("BEDROCK_MODEL_ID"); modelID != "" {
		cfg.Providers.Bedrock.ModelID = modelID
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.EventBus.RedisAddr = addr
	}
	if apolloKey := os.Getenv("APOLLO_API_KEY"); apolloKey != "" {
		cfg.Providers.Enrichment.ApolloAPIKey = apolloKey
	}

	return cfg, nil
}
