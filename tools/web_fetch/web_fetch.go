package web_fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/extract"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/httpfetch"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/models"
)

const DefaultChromedpTimeout = 15 * time.Second

// ErrEmptyContent marks a page that loaded but had no readable text.
var ErrEmptyContent = errors.New("web_fetch: page has no readable content")

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

// NewWebFetcher builds the configured fetcher. Every fetcher it returns reports
// ErrEmptyContent for pages without text.
func NewWebFetcher(cfg config.LoaderConfig) (WebFetcher, error) {
	opts := extract.Options{Mode: extract.Mode(cfg.Extract), Selector: cfg.Selector, MaxChars: cfg.MaxChars}
	switch FetcherType(strings.ToLower(cfg.Fetcher)) {
	case HTTPFetcherType:
		client := &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
			},
		}
		return nonEmpty{httpfetch.Fetch{Client: client, UserAgent: cfg.UserAgent, Timeout: cfg.Timeout, Extract: opts}}, nil
	case ChromedpFetcherType:
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultChromedpTimeout
		}
		return nonEmpty{chromedp.Fetch{Timeout: timeout, UserAgent: cfg.UserAgent, Extract: opts}}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", cfg.Fetcher)
	}
}

type nonEmpty struct{ WebFetcher }

func (n nonEmpty) Exec(ctx context.Context, url string) (models.Result, error) {
	res, err := n.WebFetcher.Exec(ctx, url)
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return res, fmt.Errorf("%w: %s", ErrEmptyContent, url)
	}
	return res, nil
}
