package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/salesloop/internal/pkg/httpretry"
)

// RESTFetcher pulls candidate records from a pixel- or intent-data
// provider's GET endpoint named in a campaign's DataSourceConfig
// ("endpoint", optional "api_key").
type RESTFetcher struct {
	client *httpretry.RetryClient
}

func NewRESTFetcher(timeout time.Duration) *RESTFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &RESTFetcher{client: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3)}
}

func (f *RESTFetcher) FetchCandidates(ctx context.Context, cfg map[string]any) ([]map[string]any, error) {
	endpoint, _ := cfg["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("rest_fetcher: data_source_config missing endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if apiKey, ok := cfg["api_key"].(string); ok && apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest_fetcher: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("rest_fetcher: http %d: %s", resp.StatusCode, string(body))
	}

	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("rest_fetcher: decode response: %w", err)
	}
	return records, nil
}
