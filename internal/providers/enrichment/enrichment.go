// Package enrichment defines the EnrichmentFetcher and ProspectSearch
// provider ports (spec section 4.3). EnrichmentFetcher's HTML-page
// adapter is grounded on the teacher's pack-sibling scraper
// (christopher935-propertyhub/internal/scraper), which pulls a page
// over HTTP and parses it with goquery; ProspectSearch talks to Apollo.
package enrichment

import "context"

// Page is a fetched and goquery-parsed HTML document, reduced to the
// plain-text and metadata fields the research stage needs.
type Page struct {
	URL         string
	Title       string
	Description string
	Text        string
	Links       []string
}

// EnrichmentFetcher fetches and extracts a single web page for the
// research waterfall (e.g. a company's "about" or "news" page).
type EnrichmentFetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// SearchParams narrows a ProspectSearch query by company/person
// attributes (titles, industries, company-size bands).
type SearchParams struct {
	Titles        []string
	Industries    []string
	EmployeeMin   int
	EmployeeMax   int
	Limit         int
}

// Person is one search result from a prospect-search provider.
type Person struct {
	Email          string
	FirstName      string
	LastName       string
	Title          string
	Company        string
	CompanyDomain  string
	Industry       string
	EmployeeCount  int
	Revenue        string
}

// ProspectSearch is the narrow port for people-search providers
// (Apollo and similar).
type ProspectSearch interface {
	SearchPeople(ctx context.Context, params SearchParams) ([]Person, error)
}
