package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/groundchat/tools/web_search/filter"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
)

const DefaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Search queries the Brave web search API. Brave exposes no answer box, so results
// only ever carry links and FAQ questions.
type Search struct {
	ApiKey   string
	Endpoint string
	Links    filter.Links
	Client   *http.Client
}

func (s Search) Search(ctx context.Context, q string) (models.SearchResult, error) {
	// https://api.search.brave.com/app/documentation/web-search
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u := fmt.Sprintf("%s?q=%s&count=20", endpoint, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.SearchResult{}, fmt.Errorf("%w: brave status %d", filter.ErrNoResult, resp.StatusCode)
	}
	var raw struct {
		Web struct {
			Results []struct {
				URL string `json:"url"`
			} `json:"results"`
		} `json:"web"`
		FAQ struct {
			Results []struct {
				Question string `json:"question"`
			} `json:"results"`
		} `json:"faq"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}
	links := make([]string, 0, len(raw.Web.Results))
	for _, r := range raw.Web.Results {
		links = append(links, r.URL)
	}
	out := models.SearchResult{Links: s.Links.Apply(links), RelatedQuestions: []string{}}
	for _, f := range raw.FAQ.Results {
		if q := strings.TrimSpace(f.Question); q != "" {
			out.RelatedQuestions = append(out.RelatedQuestions, q)
		}
	}
	return out, nil
}
