package google

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/filter"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
)

const maxPageBytes = 8 << 20

// Search scrapes a search engine results page and hands it to a Parser.
type Search struct {
	urlTemplate string
	userAgent   string
	timeout     time.Duration
	parser      *Parser
	client      *http.Client
	logger      *log.Logger
}

// NewSearch builds a scraper. When httpClient is nil a client honouring
// cfg.InsecureSkipVerify is created.
func NewSearch(cfg config.SearchConfig, parser *Parser, httpClient *http.Client) *Search {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
			},
		}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	return &Search{
		urlTemplate: cfg.URLTemplate,
		userAgent:   ua,
		timeout:     cfg.Timeout,
		parser:      parser,
		client:      httpClient,
		logger:      log.New(log.Writer(), "[GOOGLE] ", log.LstdFlags),
	}
}

// Search fetches the results page for q. Any transport or page failure is reported
// as filter.ErrNoResult with the cause attached.
func (s *Search) Search(ctx context.Context, q string) (models.SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return models.SearchResult{}, fmt.Errorf("%w: empty query", filter.ErrNoResult)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	target := fmt.Sprintf(s.urlTemplate, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Printf("warn: request failed for %q: %v", q, err)
		return models.SearchResult{}, fmt.Errorf("%w: %v", filter.ErrNoResult, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Printf("warn: unexpected status %d for %q", resp.StatusCode, q)
		return models.SearchResult{}, fmt.Errorf("%w: status %d", filter.ErrNoResult, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || !htmlLike(mt) {
			return models.SearchResult{}, fmt.Errorf("%w: content type %q", filter.ErrNoResult, ct)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("%w: read body: %v", filter.ErrNoResult, err)
	}
	return s.parser.Parse(string(body)), nil
}

// htmlLike reports whether a response media type may carry a result page.
func htmlLike(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/xhtml+xml"
}
