package web_ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/internal/helpers"
	"github.com/mohammad-safakhou/groundchat/internal/runtime"
	"github.com/mohammad-safakhou/groundchat/store"
	"github.com/mohammad-safakhou/groundchat/tools/web_fetch"
	"github.com/mohammad-safakhou/groundchat/tools/web_ingest/models"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	ProgressLoading = "Loading ... "
	ProgressDone    = "Done.\n"
)

// FailedNotice is the progress line for a page that could not be indexed.
func FailedNotice(url string) string {
	return fmt.Sprintf("<color=#ff0>[WARN]</color> Failed to build VectorStore from %s.\n", url)
}

// Index is the part of the similarity store the pipeline writes to.
type Index interface {
	Add(ctx context.Context, docs []store.Document) error
	Save(ctx context.Context) error
}

// Progress receives user-visible progress fragments in order.
type Progress func(fragment string)

// Pipeline fetches pages, chunks them and adds the chunks to the store, one page at
// a time.
type Pipeline struct {
	fetcher  web_fetch.WebFetcher
	splitter textsplitter.TextSplitter
	index    Index
	metrics  *runtime.Metrics
	logger   *log.Logger
}

// NewPipeline builds a pipeline. With cfg.Split off every page becomes one document.
func NewPipeline(fetcher web_fetch.WebFetcher, index Index, cfg config.IngestConfig, metrics *runtime.Metrics) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		index:   index,
		metrics: metrics,
		logger:  log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
	if cfg.Split {
		opts := []textsplitter.Option{
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		}
		if len(cfg.Separators) > 0 {
			opts = append(opts, textsplitter.WithSeparators(cfg.Separators))
		}
		p.splitter = textsplitter.NewRecursiveCharacter(opts...)
	}
	return p
}

// Ingest processes urls in order. A failing page is reported and skipped; the store
// is saved once at the end whatever happened before.
func (p *Pipeline) Ingest(ctx context.Context, urls []string, progress Progress) models.IngestReport {
	if progress == nil {
		progress = func(string) {}
	}
	var report models.IngestReport
	for _, u := range urls {
		progress(ProgressLoading)
		out := p.ingestOne(ctx, u)
		report.Outcomes = append(report.Outcomes, out)
		if err := out.Err; err != nil {
			p.logger.Printf("warn: ingest %s: %v", u, err)
			p.metrics.IngestURL(ctx, runtime.OutcomeError)
			progress(FailedNotice(u))
			continue
		}
		p.logger.Printf("ok %s: %d chunks, status %d, html %s, render %dms", u, out.Chunks, out.Status, out.HTMLHash, out.RenderMS)
		report.Chunks += out.Chunks
		p.metrics.IngestURL(ctx, runtime.OutcomeOK)
		progress(ProgressDone)
	}

	// saved even when the exchange was cancelled
	if err := p.index.Save(context.WithoutCancel(ctx)); err != nil {
		p.logger.Printf("error: save store: %v", err)
		report.SaveErr = err
	}
	return report
}

func (p *Pipeline) ingestOne(ctx context.Context, url string) models.Outcome {
	out := models.Outcome{URL: url}
	res, err := p.fetcher.Exec(ctx, url)
	out.Title, out.Status, out.HTMLHash, out.RenderMS = res.Title, res.Status, res.HTMLHash, res.RenderMS
	if err != nil {
		out.Err = fmt.Errorf("fetch: %w", err)
		return out
	}
	parts, err := p.split(res.Text)
	if err != nil {
		out.Err = fmt.Errorf("split: %w", err)
		return out
	}
	key := helpers.SourceKey(url)
	docs := make([]store.Document, 0, len(parts))
	for i, part := range parts {
		docs = append(docs, store.Document{
			ID:    fmt.Sprintf("%s#%03d", key, i),
			URL:   url,
			Title: res.Title,
			Text:  part,
			Chunk: i,
		})
	}
	if len(docs) == 0 {
		out.Err = fmt.Errorf("%w: %s", web_fetch.ErrEmptyContent, url)
		return out
	}
	if err := p.index.Add(ctx, docs); err != nil {
		out.Err = fmt.Errorf("index: %w", err)
		return out
	}
	out.Chunks = len(docs)
	return out
}

func (p *Pipeline) split(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if p.splitter == nil {
		return []string{text}, nil
	}
	chunks, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
