package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/salesloop/internal/pkg/httpretry"
)

// GoqueryFetcher implements EnrichmentFetcher by pulling a page over
// HTTP and extracting its text with goquery, the same library the
// pack's property-listing scraper uses for HTML extraction.
type GoqueryFetcher struct {
	client *httpretry.RetryClient
}

func NewGoqueryFetcher(timeout time.Duration) *GoqueryFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &GoqueryFetcher{
		client: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2),
	}
}

func (f *GoqueryFetcher) FetchPage(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; salesloop-research/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Page{}, fmt.Errorf("fetch %s: http %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}

	page := Page{
		URL:   url,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	page.Description, _ = doc.Find(`meta[name="description"]`).Attr("content")

	var textParts []string
	doc.Find("p, h1, h2, h3, li").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			textParts = append(textParts, t)
		}
	})
	page.Text = strings.Join(textParts, "\n")

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "http") {
			page.Links = append(page.Links, href)
		}
	})

	return page, nil
}
