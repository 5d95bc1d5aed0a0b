package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/extract"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch/models"
)

const maxBodyBytes = 10 << 20

// Fetch loads a page with a plain GET and extracts its text without running scripts.
type Fetch struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	Extract   extract.Options
}

func (f Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, fmt.Errorf("invalid url")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Result{}, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Result{URL: url}, err
	}
	defer resp.Body.Close()

	res := models.Result{URL: url, Status: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return res, fmt.Errorf("fetch %s: %w", url, err)
	}
	html := string(body)
	res.Title, res.Text = extract.Page(html, url, f.Extract)
	res.HTMLHash = extract.Hash(html)
	res.RenderMS = int(time.Since(t0) / time.Millisecond)
	return res, nil
}
