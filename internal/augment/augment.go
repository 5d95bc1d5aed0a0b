package augment

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/groundchat/store"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
)

const (
	DefaultTopK = 1

	noContext = "No context available."
)

// Searcher is the read side of the similarity store.
type Searcher interface {
	SimilaritySearch(ctx context.Context, text string, k int) ([]store.Hit, error)
}

// Bundle is the context spliced into the prompt. A featured snippet and a store hit
// never appear together.
type Bundle struct {
	Text        string
	Attribution *models.Source
	FromSnippet bool
}

func (b Bundle) Empty() bool { return strings.TrimSpace(b.Text) == "" }

// SystemPrompt renders the bundle as the system message placed before the last user
// message.
func (b Bundle) SystemPrompt() string {
	switch {
	case b.FromSnippet:
		var name, link string
		if b.Attribution != nil {
			name, link = b.Attribution.Name, b.Attribution.Link
		}
		return fmt.Sprintf("Prepared Answer [by %s(%s)]: %s", name, link, b.Text)
	case b.Empty():
		return "Context(You can Ignore): " + noContext
	default:
		return "Context(You can Ignore): " + b.Text
	}
}

type Resolver struct {
	store  Searcher
	topK   int
	logger *log.Logger
}

func NewResolver(s Searcher, topK int) *Resolver {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Resolver{store: s, topK: topK, logger: log.New(log.Writer(), "[AUGMENT] ", log.LstdFlags)}
}

// Resolve prefers the featured snippet of result; without one it asks the store
// with the last user message. result may be nil.
func (r *Resolver) Resolve(ctx context.Context, result *models.SearchResult, lastUserMessage string) (Bundle, error) {
	if result != nil && result.HasSnippet() {
		src := result.Featured.Source
		return Bundle{Text: result.Featured.Content, Attribution: &src, FromSnippet: true}, nil
	}
	if strings.TrimSpace(lastUserMessage) == "" {
		return Bundle{}, nil
	}
	hits, err := r.store.SimilaritySearch(ctx, lastUserMessage, r.topK)
	if err != nil {
		return Bundle{}, fmt.Errorf("similarity search: %w", err)
	}
	if len(hits) == 0 {
		r.logger.Printf("no stored context for query")
		return Bundle{}, nil
	}
	return Bundle{Text: hits[0].Text}, nil
}
