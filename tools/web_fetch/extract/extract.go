package extract

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

type Mode string

const (
	// Paragraph joins the text of every element matching the selector.
	Paragraph Mode = "paragraph"
	// Readability keeps the main article body only.
	Readability Mode = "readability"
)

const DefaultSelector = "p"

type Options struct {
	Mode     Mode
	Selector string
	MaxChars int // zero keeps everything
}

// Page returns the title and readable text of an HTML document.
func Page(html, pageURL string, opts Options) (title, text string) {
	switch opts.Mode {
	case Readability:
		title, text = readable(html, pageURL)
	default:
		title, text = paragraphs(html, opts.Selector)
	}
	return title, Truncate(text, opts.MaxChars)
}

func paragraphs(html, selector string) (string, string) {
	if selector == "" {
		selector = DefaultSelector
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, noscript").Remove()
	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return collapse(doc.Find("title").First().Text()), strings.Join(parts, "\n\n")
}

func readable(html, pageURL string) (string, string) {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), strings.TrimSpace(article.TextContent)
}

// collapse folds runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most max runes. max <= 0 disables it.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func Hash(html string) string {
	sum := sha1.Sum([]byte(html))
	return hex.EncodeToString(sum[:])
}
