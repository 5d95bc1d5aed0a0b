package google

import (
	"log"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/internal/helpers"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/filter"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
)

// Selectors locate the parts of a results page. They mirror one engine's markup and
// are replaceable configuration.
type Selectors struct {
	SnippetHeadings     []string
	SnippetContainer    string
	SnippetSourceName   string
	RelatedQuestion     string
	RelatedQuestionText string
}

// DefaultSelectors match the Japanese-locale google.com results page.
var DefaultSelectors = Selectors{
	SnippetHeadings:     []string{"ウェブページから抽出された強調スニペット", "Featured snippet from the web"},
	SnippetContainer:    ".V3FYCf",
	SnippetSourceName:   "span.VuuXrf",
	RelatedQuestion:     `div[jsname="yEVEwb"]`,
	RelatedQuestionText: "span",
}

func SelectorsFromConfig(c config.SelectorsConfig) Selectors {
	s := Selectors{
		SnippetHeadings:     c.SnippetHeadings,
		SnippetContainer:    c.SnippetContainer,
		SnippetSourceName:   c.SnippetSourceName,
		RelatedQuestion:     c.RelatedQuestion,
		RelatedQuestionText: c.RelatedQuestionText,
	}
	if len(s.SnippetHeadings) == 0 {
		s.SnippetHeadings = DefaultSelectors.SnippetHeadings
	}
	if s.SnippetContainer == "" {
		s.SnippetContainer = DefaultSelectors.SnippetContainer
	}
	if s.SnippetSourceName == "" {
		s.SnippetSourceName = DefaultSelectors.SnippetSourceName
	}
	if s.RelatedQuestion == "" {
		s.RelatedQuestion = DefaultSelectors.RelatedQuestion
	}
	if s.RelatedQuestionText == "" {
		s.RelatedQuestionText = DefaultSelectors.RelatedQuestionText
	}
	return s
}

// Parser turns a results page into a SearchResult. It has no state besides its
// configuration, so one Parser may be shared.
type Parser struct {
	sel    Selectors
	links  filter.Links
	logger *log.Logger
}

func NewParser(sel Selectors, links filter.Links) *Parser {
	return &Parser{sel: sel, links: links, logger: log.New(log.Writer(), "[PARSER] ", log.LstdFlags)}
}

// Parse never fails: every missing element degrades to an absent field.
func (p *Parser) Parse(html string) (res models.SearchResult) {
	res = models.SearchResult{Links: []string{}, RelatedQuestions: []string{}}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("warn: recovered while parsing results page: %v", r)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Printf("warn: unreadable results page: %v", err)
		return res
	}
	res.Featured = p.featured(doc)
	res.Links = p.links.Apply(p.candidateLinks(doc))
	res.RelatedQuestions = p.related(doc)
	return res
}

func (p *Parser) featured(doc *goquery.Document) *models.FeaturedSnippet {
	container := p.snippetContainer(doc)
	if container == nil {
		return nil
	}
	snippet := &models.FeaturedSnippet{
		Source: models.Source{
			Name: sourceName(container, p.sel.SnippetSourceName),
			Link: sourceLink(container),
		},
	}
	if table, ok := tableMarkup(container); ok {
		snippet.Content = table
		snippet.IsTable = true
	} else {
		snippet.Content = leadText(container)
	}
	if snippet.Content == "" {
		return nil
	}
	return snippet
}

func (p *Parser) snippetContainer(doc *goquery.Document) *goquery.Selection {
	var heading *goquery.Selection
	doc.Find("h2").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		text := strings.TrimSpace(h.Text())
		for _, label := range p.sel.SnippetHeadings {
			if text == label {
				heading = h
				return false
			}
		}
		return true
	})
	if heading == nil {
		return nil
	}
	container := heading.Parent().Find(p.sel.SnippetContainer).First()
	if container.Length() == 0 {
		return nil
	}
	return container
}

func tableMarkup(container *goquery.Selection) (string, bool) {
	table := container.Find("table").First()
	if table.Length() == 0 {
		return "", false
	}
	inner, err := table.Html()
	if err != nil {
		return "", false
	}
	inner = helpers.SanitizeTableMarkup(inner)
	return inner, inner != ""
}

// leadText is the text of the container's first grandchild.
func leadText(container *goquery.Selection) string {
	lead := container.Children().First().Children().First()
	if lead.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(lead.Text())
}

func sourceName(container *goquery.Selection, selector string) string {
	return strings.TrimSpace(container.Find(selector).First().Text())
}

func sourceLink(container *goquery.Selection) string {
	href, ok := container.Find("a").First().Attr("href")
	if !ok {
		return ""
	}
	return unwrapRedirect(href)
}

// candidateLinks returns hrefs of anchors that directly wrap an h3, in page order.
func (p *Parser) candidateLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find("h3").Each(func(_ int, h *goquery.Selection) {
		parent := h.Parent()
		if goquery.NodeName(parent) != "a" {
			return
		}
		if href, ok := parent.Attr("href"); ok {
			out = append(out, unwrapRedirect(href))
		}
	})
	return out
}

func (p *Parser) related(doc *goquery.Document) []string {
	out := []string{}
	doc.Find(p.sel.RelatedQuestion).Each(func(_ int, s *goquery.Selection) {
		q := strings.TrimSpace(s.Find(p.sel.RelatedQuestionText).First().Text())
		if q != "" {
			out = append(out, q)
		}
	})
	return out
}

// unwrapRedirect resolves "/url?q=<target>" result links served to clients without
// javascript.
func unwrapRedirect(href string) string {
	href = strings.TrimSpace(href)
	if !strings.HasPrefix(href, "/url?") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("q"); target != "" {
		return target
	}
	if target := u.Query().Get("url"); target != "" {
		return target
	}
	return href
}
