package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/salesloop/internal/pkg/httpretry"
)

// Apollo implements ProspectSearch against the Apollo people-search API.
type Apollo struct {
	apiKey  string
	baseURL string
	client  *httpretry.RetryClient
}

func NewApollo(apiKey, baseURL string, timeout time.Duration) *Apollo {
	if baseURL == "" {
		baseURL = "https://api.apollo.io/v1"
	}
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Apollo{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}
}

func (a *Apollo) SearchPeople(ctx context.Context, params SearchParams) ([]Person, error) {
	limit := params.Limit
	if limit == 0 {
		limit = 100
	}

	body := map[string]any{
		"person_titles":          params.Titles,
		"organization_industries": params.Industries,
		"per_page":               limit,
	}
	if params.EmployeeMin > 0 || params.EmployeeMax > 0 {
		body["organization_num_employees_ranges"] = []string{fmt.Sprintf("%d,%d", params.EmployeeMin, params.EmployeeMax)}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/mixed_people/search", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apollo: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("apollo: http %d: %s", resp.StatusCode, string(respBody))
	}

	var raw struct {
		People []struct {
			Email   string `json:"email"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Title     string `json:"title"`
			Organization struct {
				Name          string `json:"name"`
				WebsiteURL    string `json:"website_url"`
				Industry      string `json:"industry"`
				EstimatedNumEmployees int `json:"estimated_num_employees"`
				AnnualRevenuePrinted  string `json:"annual_revenue_printed"`
			} `json:"organization"`
		} `json:"people"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("apollo: parse response: %w", err)
	}

	people := make([]Person, 0, len(raw.People))
	for _, p := range raw.People {
		people = append(people, Person{
			Email:         p.Email,
			FirstName:     p.FirstName,
			LastName:      p.LastName,
			Title:         p.Title,
			Company:       p.Organization.Name,
			CompanyDomain: p.Organization.WebsiteURL,
			Industry:      p.Organization.Industry,
			EmployeeCount: p.Organization.EstimatedNumEmployees,
			Revenue:       p.Organization.AnnualRevenuePrinted,
		})
	}
	return people, nil
}
