// Package providers resolves a Tenant's named provider choices
// (active_email_provider, active_linkedin_provider) to concrete port
// adapters. It is grounded on the teacher's ProfileBasedSender
// (internal/worker/esp_profile.go), which switches on a stored vendor
// name to build the right ESP client; this Registry applies that switch
// to the email and LinkedIn ports, caching one adapter instance per
// configured name. The LLM, enrichment, prospect-search and notifier
// adapters are single instances built once.
package providers

import (
	"fmt"
	"sync"

	"github.com/ignite/salesloop/internal/config"
	"github.com/ignite/salesloop/internal/providers/email"
	"github.com/ignite/salesloop/internal/providers/enrichment"
	"github.com/ignite/salesloop/internal/providers/linkedin"
	"github.com/ignite/salesloop/internal/providers/llm"
	"github.com/ignite/salesloop/internal/providers/notifier"
)

// Registry routes a tenant's provider-name selection to concrete port
// adapters. Rewriting the core must always go through this registry
// rather than compile-time branching on vendor type.
type Registry struct {
	cfg config.ProvidersConfig

	mu       sync.Mutex
	emailers map[string]email.EmailSender
	linkedin map[string]linkedin.LinkedInAutomation

	llmAdapter llm.LLM
	enricher   enrichment.EnrichmentFetcher
	search     enrichment.ProspectSearch
	notify     notifier.Notifier
}

// New builds a Registry. llmAdapter and notify are constructed outside
// the registry because both may require an AWS config load (Bedrock,
// SES). The enrichment fetcher and prospect search are built here from
// ProvidersConfig; email and LinkedIn adapters are built lazily by name.
func New(cfg config.ProvidersConfig, llmAdapter llm.LLM, notify notifier.Notifier) *Registry {
	if notify == nil {
		notify = notifier.NewWebhookNotifier(cfg.Notifier.WebhookURL)
	}
	return &Registry{
		cfg:        cfg,
		emailers:   make(map[string]email.EmailSender),
		linkedin:   make(map[string]linkedin.LinkedInAutomation),
		llmAdapter: llmAdapter,
		enricher:   enrichment.NewGoqueryFetcher(cfg.Enrichment.Timeout()),
		search:     enrichment.NewApollo(cfg.Enrichment.ApolloAPIKey, cfg.Enrichment.ApolloBaseURL, cfg.Enrichment.Timeout()),
		notify:     notify,
	}
}

// LLM returns the tenant-independent LLM adapter. Spec non-goals treat
// LLM provider internals as out of scope for per-tenant selection. The
// tenant's llm_provider/llm_model fields are loaded with the tenant row
// but no stage reads them; every call goes through this one adapter.
func (r *Registry) LLM() llm.LLM { return r.llmAdapter }

func (r *Registry) Enrichment() enrichment.EnrichmentFetcher { return r.enricher }

func (r *Registry) ProspectSearch() enrichment.ProspectSearch { return r.search }

func (r *Registry) Notifier() notifier.Notifier { return r.notify }

// EmailSender resolves a tenant's active_email_provider name to a
// cached adapter instance.
func (r *Registry) EmailSender(name string) (email.EmailSender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sender, ok := r.emailers[name]; ok {
		return sender, nil
	}

	adapterCfg, ok := r.cfg.Email[name]
	if !ok {
		return nil, fmt.Errorf("providers: no email adapter configured for %q", name)
	}

	sender := email.NewRESTAdapter(name, adapterCfg.APIKey, adapterCfg.BaseURL, adapterCfg.Timeout())
	r.emailers[name] = sender
	return sender, nil
}

// LinkedInAutomation resolves a tenant's active_linkedin_provider name
// to a cached adapter instance.
func (r *Registry) LinkedInAutomation(name string) (linkedin.LinkedInAutomation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.linkedin[name]; ok {
		return adapter, nil
	}

	adapterCfg, ok := r.cfg.LinkedIn[name]
	if !ok {
		return nil, fmt.Errorf("providers: no linkedin adapter configured for %q", name)
	}

	adapter := linkedin.NewRESTAdapter(name, adapterCfg.APIKey, adapterCfg.BaseURL, adapterCfg.Timeout())
	r.linkedin[name] = adapter
	return adapter, nil
}
