package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/groundchat/tools/web_search/filter"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
)

const DefaultEndpoint = "https://google.serper.dev/search"

// Search queries the serper.dev Google API. Its answer box maps to the featured
// snippet and "people also ask" to related questions.
type Search struct {
	ApiKey   string
	Endpoint string
	Links    filter.Links
	Client   *http.Client
}

type response struct {
	AnswerBox *struct {
		Title   string `json:"title"`
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"answerBox"`
	Organic []struct {
		Link string `json:"link"`
	} `json:"organic"`
	PeopleAlsoAsk []struct {
		Question string `json:"question"`
	} `json:"peopleAlsoAsk"`
}

func (s Search) Search(ctx context.Context, q string) (models.SearchResult, error) {
	// https://serper.dev/ docs
	body, err := json.Marshal(map[string]any{"q": q, "num": 10})
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")

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
		return models.SearchResult{}, fmt.Errorf("%w: serper status %d", filter.ErrNoResult, resp.StatusCode)
	}
	var raw response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}

	out := models.SearchResult{RelatedQuestions: []string{}}
	if ab := raw.AnswerBox; ab != nil {
		content := strings.TrimSpace(ab.Answer)
		if content == "" {
			content = strings.TrimSpace(ab.Snippet)
		}
		if content != "" {
			out.Featured = &models.FeaturedSnippet{
				Content: content,
				Source:  models.Source{Name: ab.Title, Link: ab.Link},
			}
		}
	}
	links := make([]string, 0, len(raw.Organic))
	for _, o := range raw.Organic {
		links = append(links, o.Link)
	}
	out.Links = s.Links.Apply(links)
	for _, p := range raw.PeopleAlsoAsk {
		if q := strings.TrimSpace(p.Question); q != "" {
			out.RelatedQuestions = append(out.RelatedQuestions, q)
		}
	}
	return out, nil
}
