package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/groundchat/internal/augment"
	"github.com/mohammad-safakhou/groundchat/internal/protocol"
	"github.com/mohammad-safakhou/groundchat/internal/runtime"
	"github.com/mohammad-safakhou/groundchat/provider"
	"github.com/mohammad-safakhou/groundchat/tools/web_ingest"
	ingestmodels "github.com/mohammad-safakhou/groundchat/tools/web_ingest/models"
	"github.com/mohammad-safakhou/groundchat/tools/web_search"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender delivers one outbound fragment to the client.
type Sender interface {
	Send(fragment string) error
}

type Ingester interface {
	Ingest(ctx context.Context, urls []string, progress web_ingest.Progress) ingestmodels.IngestReport
}

type ContextResolver interface {
	Resolve(ctx context.Context, result *models.SearchResult, lastUserMessage string) (augment.Bundle, error)
}

// Deps are the collaborators shared by every conversation.
type Deps struct {
	Provider provider.Provider
	Searcher web_search.WebSearcher
	Pipeline Ingester
	Resolver ContextResolver
	Metrics  *runtime.Metrics
	Tracer   trace.Tracer
	Logger   *log.Logger
}

type Options struct {
	AcceptedVersion  string
	DefaultModel     string
	QueryInstruction string
}

// Engine builds conversations that share one set of collaborators.
type Engine struct {
	deps Deps
	opts Options
}

func NewEngine(deps Deps, opts Options) *Engine {
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("groundchat/session")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &Engine{deps: deps, opts: opts}
}

// NewConversation starts the state machine of one client connection.
func (e *Engine) NewConversation(out Sender) *Conversation {
	return &Conversation{
		id:     uuid.NewString(),
		engine: e,
		out:    out,
		state:  AwaitMessage,
	}
}

// TransportError wraps a failed Send. The client is gone, so nothing more is sent.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return "send: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// errAborted marks an exchange that already told the client it failed.
var errAborted = errors.New("exchange aborted")

// Conversation is the per-connection state machine. Handle must not be called
// concurrently; State may be read from any goroutine.
type Conversation struct {
	id       string
	engine   *Engine
	out      Sender
	mu       sync.Mutex
	state    State
	observer func(from, to State)
}

func (c *Conversation) ID() string { return c.id }

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnTransition registers fn to be called after every state change.
func (c *Conversation) OnTransition(fn func(from, to State)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

func (c *Conversation) set(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	fn := c.observer
	c.mu.Unlock()
	if fn != nil && from != to {
		fn(from, to)
	}
}

func (c *Conversation) emit(fragments ...string) error {
	for _, f := range fragments {
		if err := c.out.Send(f); err != nil {
			return &TransportError{Err: err}
		}
	}
	return nil
}

// Handle runs one exchange for an inbound frame. Exchange failures are reported to
// the client and swallowed; only a TransportError is returned.
func (c *Conversation) Handle(ctx context.Context, raw []byte) error {
	e := c.engine
	exchangeID := uuid.NewString()
	start := time.Now()
	ctx, span := e.deps.Tracer.Start(ctx, "session.exchange", trace.WithAttributes(
		attribute.String("conversation.id", c.id),
		attribute.String("exchange.id", exchangeID),
	))
	defer span.End()
	defer c.set(AwaitMessage)

	c.set(Validating)
	req, err := protocol.Decode(raw, e.opts.AcceptedVersion)
	if err != nil {
		e.deps.Logger.Printf("[%s] warn: request rejected: %v", exchangeID, err)
		c.set(Rejected)
		text := protocol.RejectUnparseable
		if errors.Is(err, protocol.ErrVersionMismatch) {
			text = protocol.RejectOldVersion
		}
		span.SetAttributes(attribute.String("exchange.outcome", runtime.OutcomeRejected))
		e.deps.Metrics.Exchange(ctx, runtime.OutcomeRejected, time.Since(start))
		return c.emit(protocol.StreamOpen, text, protocol.StreamClose)
	}
	if !req.HasUser() {
		e.deps.Logger.Printf("[%s] warn: request without user id", exchangeID)
		if err := c.emit(protocol.StreamOpen, protocol.Warn(protocol.MissingUserNotice), protocol.StreamClose); err != nil {
			return err
		}
	}

	c.set(Proceeding)
	err = c.proceed(ctx, exchangeID, req)
	outcome := runtime.OutcomeOK
	var te *TransportError
	switch {
	case err == nil:
	case errors.As(err, &te):
		outcome = runtime.OutcomeError
		e.deps.Logger.Printf("[%s] warn: client went away: %v", exchangeID, te.Err)
	case errors.Is(err, errAborted):
		outcome = runtime.OutcomeAborted
	default:
		outcome = runtime.OutcomeError
		e.deps.Logger.Printf("[%s] error: exchange failed: %v", exchangeID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = c.emit(protocol.StreamClose, protocol.StreamOpen, protocol.TerminatedNotice, protocol.StreamClose)
	}
	if errors.Is(err, errAborted) {
		err = nil
	}
	span.SetAttributes(attribute.String("exchange.outcome", outcome))
	e.deps.Metrics.Exchange(ctx, outcome, time.Since(start))
	return err
}

// proceed runs Proceeding through Streaming. Panics are turned into errors.
func (c *Conversation) proceed(ctx context.Context, exchangeID string, req protocol.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	e := c.engine
	model := req.Model
	if model == "" {
		model = e.opts.DefaultModel
	}
	head, last := req.Split()

	var result *models.SearchResult
	if req.Google {
		result, err = c.augment(ctx, exchangeID, model, req.Thread)
		if err != nil {
			return err
		}
	} else {
		c.set(Resolving)
	}

	rctx, span := e.deps.Tracer.Start(ctx, "session.resolve")
	bundle, err := e.deps.Resolver.Resolve(rctx, result, last.Content)
	span.End()
	if err != nil {
		return fmt.Errorf("resolve context: %w", err)
	}

	c.set(Generating)
	messages := make([]provider.Message, 0, len(head)+2)
	messages = append(messages, head...)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: bundle.SystemPrompt()})
	messages = append(messages, last)

	gctx, gspan := e.deps.Tracer.Start(ctx, "session.generate", trace.WithAttributes(attribute.String("llm.model", model)))
	defer gspan.End()
	stream, err := e.deps.Provider.Stream(gctx, model, messages)
	if err != nil {
		return fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	c.set(Streaming)
	if err := c.emit(protocol.StreamOpen); err != nil {
		return err
	}
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("completion stream: %w", err)
		}
		if frag == "" {
			continue
		}
		if err := c.emit(frag); err != nil {
			return err
		}
	}

	switch {
	case bundle.FromSnippet:
		if err := c.emit(protocol.CreateAskWithNoSnippetButton); err != nil {
			return err
		}
	case result != nil:
		if questions := nonEmpty(result.RelatedQuestions); len(questions) > 0 {
			if err := c.emit(append([]string{protocol.RelatedQuestion}, questions...)...); err != nil {
				return err
			}
		}
	}
	return c.emit(protocol.StreamClose)
}

// augment runs SuggestingQuery, Searching and Resolving inside one progress stream.
func (c *Conversation) augment(ctx context.Context, exchangeID, model string, thread []provider.Message) (*models.SearchResult, error) {
	e := c.engine
	c.set(SuggestingQuery)
	if err := c.emit(protocol.StreamOpen, protocol.DebugInfo, protocol.SuggestingQuery); err != nil {
		return nil, err
	}

	sctx, span := e.deps.Tracer.Start(ctx, "session.suggest_query")
	msgs := make([]provider.Message, 0, len(thread)+1)
	msgs = append(msgs, thread...)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: e.opts.QueryInstruction})
	query, err := e.deps.Provider.Complete(sctx, model, msgs)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("suggest query: %w", err)
	}
	query = strings.TrimSpace(query)
	if err := c.emit(protocol.Suggested(query)); err != nil {
		return nil, err
	}
	if query == "" {
		e.deps.Logger.Printf("[%s] warn: no query suggested", exchangeID)
		return nil, c.abort()
	}

	c.set(Searching)
	if err := c.emit(protocol.SearchingNotice); err != nil {
		return nil, err
	}
	qctx, qspan := e.deps.Tracer.Start(ctx, "session.search", trace.WithAttributes(attribute.String("search.query", query)))
	result, err := e.deps.Searcher.Search(qctx, query)
	qspan.End()
	if err := c.emit(protocol.DoneNotice); err != nil {
		return nil, err
	}
	if err != nil {
		e.deps.Metrics.Search(ctx, runtime.OutcomeError)
		e.deps.Logger.Printf("[%s] warn: search %q: %v", exchangeID, query, err)
		return nil, c.abort()
	}
	if len(result.Links) == 0 && !result.HasSnippet() {
		e.deps.Metrics.Search(ctx, runtime.OutcomeError)
		e.deps.Logger.Printf("[%s] warn: search %q: %v", exchangeID, query, web_search.ErrNoResult)
		return nil, c.abort()
	}
	e.deps.Metrics.Search(ctx, runtime.OutcomeOK)

	c.set(Resolving)
	if !result.HasSnippet() {
		ictx, ispan := e.deps.Tracer.Start(ctx, "session.ingest", trace.WithAttributes(attribute.Int("ingest.urls", len(result.Links))))
		var sendErr error
		report := e.deps.Pipeline.Ingest(ictx, result.Links, func(fragment string) {
			if sendErr == nil {
				sendErr = c.emit(fragment)
			}
		})
		ispan.SetAttributes(attribute.Int("ingest.succeeded", report.Succeeded()), attribute.Int("ingest.chunks", report.Chunks))
		ispan.End()
		if sendErr != nil {
			return nil, sendErr
		}
		if report.SaveErr != nil {
			e.deps.Logger.Printf("[%s] warn: store not saved: %v", exchangeID, report.SaveErr)
		}
		if err := c.emit(protocol.StoreBuiltNotice); err != nil {
			return nil, err
		}
	}
	if err := c.emit(protocol.StreamClose); err != nil {
		return nil, err
	}
	return &result, nil
}

// abort ends the progress stream with the short error notice.
func (c *Conversation) abort() error {
	if err := c.emit(protocol.ErrorShort, protocol.StreamClose); err != nil {
		return err
	}
	return errAborted
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
