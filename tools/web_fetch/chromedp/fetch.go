package chromedp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/extract"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/models"
)

// Fetch renders the page in headless Chrome before extracting, for sites that build
// their content with scripts.
type Fetch struct {
	Timeout   time.Duration
	UserAgent string
	Extract   extract.Options
}

func (f Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	// Headless browsing
	html, err := f.fetchHTML(ctx, url)
	if err != nil {
		return models.Result{URL: url, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, err
	}

	title, text := extract.Page(html, url, f.Extract)
	return models.Result{
		URL:      url,
		Title:    title,
		Text:     text,
		HTMLHash: extract.Hash(html),
		Status:   200,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func (f Fetch) fetchHTML(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	if f.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.UserAgent))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
