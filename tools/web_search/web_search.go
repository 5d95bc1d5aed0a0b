package web_search

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/brave"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/filter"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/google"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/serper"
)

// WebSearcher runs one best-effort search. Failures surface as ErrNoResult.
type WebSearcher interface {
	Search(ctx context.Context, q string) (models.SearchResult, error)
}

type Provider string

const (
	GoogleProvider Provider = "google"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported search provider")
	// ErrNoResult is returned for every failed search, whatever the cause.
	ErrNoResult = filter.ErrNoResult
)

// NewWebSearcher builds the configured provider. httpClient may be nil.
func NewWebSearcher(cfg config.SearchConfig, httpClient *http.Client) (WebSearcher, error) {
	links := filter.Links{Excluded: cfg.ExcludedSites, Max: cfg.MaxLinks}
	switch Provider(strings.ToLower(cfg.Provider)) {
	case GoogleProvider:
		parser := google.NewParser(google.SelectorsFromConfig(cfg.Selectors), links)
		return google.NewSearch(cfg, parser, httpClient), nil
	case SerperProvider:
		return serper.Search{ApiKey: cfg.SerperAPIKey, Links: links, Client: httpClient}, nil
	case BraveProvider:
		return brave.Search{ApiKey: cfg.BraveAPIKey, Links: links, Client: httpClient}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
