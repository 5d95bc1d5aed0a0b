package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/groundchat/internal/augment"
	"github.com/mohammad-safakhou/groundchat/internal/protocol"
	"github.com/mohammad-safakhou/groundchat/provider"
	"github.com/mohammad-safakhou/groundchat/store"
	"github.com/mohammad-safakhou/groundchat/tools/embedding"
	"github.com/mohammad-safakhou/groundchat/tools/web_ingest"
	ingestmodels "github.com/mohammad-safakhou/groundchat/tools/web_ingest/models"
	"github.com/mohammad-safakhou/groundchat/tools/web_search"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accepted = "2.4"

type recorder struct {
	mu     sync.Mutex
	frags  []string
	failAt int // 1-based index of the Send that fails; 0 never fails
}

func (r *recorder) Send(fragment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.frags)+1 == r.failAt {
		return errors.New("connection reset")
	}
	r.frags = append(r.frags, fragment)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frags...)
}

type sliceStream struct {
	frags  []string
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.frags) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeProvider struct {
	query       string
	completeErr error
	frags       []string
	streamErr   error
	midErr      error

	completeCalls int
	streamCalls   int
	lastMessages  []provider.Message
	lastModel     string
	stream        *sliceStream
}

func (f *fakeProvider) Complete(_ context.Context, _ string, _ []provider.Message) (string, error) {
	f.completeCalls++
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.query, nil
}

func (f *fakeProvider) Stream(_ context.Context, model string, messages []provider.Message) (provider.Stream, error) {
	f.streamCalls++
	f.lastModel = model
	f.lastMessages = messages
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	f.stream = &sliceStream{frags: append([]string(nil), f.frags...), err: f.midErr}
	return f.stream, nil
}

func (f *fakeProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

type fakeSearcher struct {
	result models.SearchResult
	err    error
	calls  []string
}

func (f *fakeSearcher) Search(_ context.Context, q string) (models.SearchResult, error) {
	f.calls = append(f.calls, q)
	return f.result, f.err
}

type fakeIngester struct {
	index *store.Store
	urls  []string
}

func (f *fakeIngester) Ingest(ctx context.Context, urls []string, progress web_ingest.Progress) ingestmodels.IngestReport {
	var report ingestmodels.IngestReport
	for _, u := range urls {
		f.urls = append(f.urls, u)
		progress(web_ingest.ProgressLoading)
		err := f.index.Add(ctx, []store.Document{{ID: u, URL: u, Text: "Tokyo is the capital of Japan"}})
		report.Outcomes = append(report.Outcomes, ingestmodels.Outcome{URL: u, Chunks: 1, Err: err})
		progress(web_ingest.ProgressDone)
	}
	return report
}

type panickingResolver struct{}

func (panickingResolver) Resolve(context.Context, *models.SearchResult, string) (augment.Bundle, error) {
	panic("resolver exploded")
}

type fixture struct {
	provider *fakeProvider
	searcher *fakeSearcher
	ingester *fakeIngester
	store    *store.Store
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(embedding.NewHashEmbedder(64), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		provider: &fakeProvider{query: "capital of japan", frags: []string{"Hel", "lo"}},
		searcher: &fakeSearcher{},
		ingester: &fakeIngester{index: st},
		store:    st,
	}
	f.engine = NewEngine(Deps{
		Provider: f.provider,
		Searcher: f.searcher,
		Pipeline: f.ingester,
		Resolver: augment.NewResolver(st, 1),
	}, Options{AcceptedVersion: accepted, DefaultModel: "gpt-3.5-turbo", QueryInstruction: "Suggest a query."})
	return f
}

func request(google bool, user string) []byte {
	g := "false"
	if google {
		g = "true"
	}
	return []byte(`{"version":"2.4","user":"` + user + `","google":` + g + `,"thread":[{"role":"user","content":"What is the capital of Japan?"}]}`)
}

func TestRejectsOldVersion(t *testing.T) {
	f := newFixture(t)
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	err := conv.Handle(context.Background(), []byte(`{"version":"1.0.0","user":"u","thread":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{protocol.StreamOpen, protocol.RejectOldVersion, protocol.StreamClose}, out.all())
	assert.Zero(t, f.provider.completeCalls)
	assert.Zero(t, f.provider.streamCalls)
	assert.Equal(t, AwaitMessage, conv.State())
}

func TestRejectsUnparseable(t *testing.T) {
	f := newFixture(t)
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	for _, raw := range []string{`not json`, `{"version":"2.4","user":"u","thread":[]}`} {
		require.NoError(t, conv.Handle(context.Background(), []byte(raw)))
	}
	assert.Equal(t, []string{
		protocol.StreamOpen, protocol.RejectUnparseable, protocol.StreamClose,
		protocol.StreamOpen, protocol.RejectUnparseable, protocol.StreamClose,
	}, out.all())
	assert.Zero(t, f.provider.streamCalls)
}

func TestDirectAnswerWithStoredContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Add(context.Background(), []store.Document{
		{ID: "a#000", URL: "https://a.example", Text: "The capital of Japan is Tokyo."},
	}))
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(false, "u1")))
	assert.Equal(t, []string{protocol.StreamOpen, "Hel", "lo", protocol.StreamClose}, out.all())
	assert.Empty(t, f.searcher.calls)
	assert.Zero(t, f.provider.completeCalls)
	assert.Equal(t, "gpt-3.5-turbo", f.provider.lastModel)
	require.Len(t, f.provider.lastMessages, 2)
	assert.Equal(t, provider.RoleSystem, f.provider.lastMessages[0].Role)
	assert.Equal(t, "Context(You can Ignore): The capital of Japan is Tokyo.", f.provider.lastMessages[0].Content)
	assert.Equal(t, "What is the capital of Japan?", f.provider.lastMessages[1].Content)
	assert.True(t, f.provider.stream.closed)
}

func TestDirectAnswerWithEmptyStore(t *testing.T) {
	f := newFixture(t)
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(false, "u1")))
	require.Len(t, f.provider.lastMessages, 2)
	assert.Equal(t, "Context(You can Ignore): No context available.", f.provider.lastMessages[0].Content)
}

func TestSystemContextGoesBeforeLastMessage(t *testing.T) {
	f := newFixture(t)
	out := &recorder{}
	conv := f.engine.NewConversation(out)
	raw := `{"version":2.4,"user":"u","model":"gpt-4","thread":[` +
		`{"role":"user","content":"one"},{"role":"assistant","content":"two"},{"role":"user","content":"three"}]}`

	require.NoError(t, conv.Handle(context.Background(), []byte(raw)))
	msgs := f.provider.lastMessages
	require.Len(t, msgs, 4)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, provider.RoleSystem, msgs[2].Role)
	assert.Equal(t, "three", msgs[3].Content)
	assert.Equal(t, "gpt-4", f.provider.lastModel)
}

func TestMissingUserWarnsAndContinues(t *testing.T) {
	f := newFixture(t)
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(false, "")))
	assert.Equal(t, []string{
		protocol.StreamOpen, protocol.Warn(protocol.MissingUserNotice), protocol.StreamClose,
		protocol.StreamOpen, "Hel", "lo", protocol.StreamClose,
	}, out.all())
}

func TestSearchWithoutResultsAborts(t *testing.T) {
	f := newFixture(t)
	f.searcher.result = models.SearchResult{Links: []string{}, RelatedQuestions: []string{}}
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(true, "u1")))
	assert.Equal(t, []string{
		protocol.StreamOpen,
		protocol.DebugInfo,
		protocol.SuggestingQuery,
		protocol.Suggested("capital of japan"),
		protocol.SearchingNotice,
		protocol.DoneNotice,
		protocol.ErrorShort,
		protocol.StreamClose,
	}, out.all())
	assert.Equal(t, []string{"capital of japan"}, f.searcher.calls)
	assert.Zero(t, f.provider.streamCalls)
	assert.Equal(t, AwaitMessage, conv.State())
}

func TestSearchFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = web_search.ErrNoResult
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(true, "u1")))
	frags := out.all()
	assert.Equal(t, []string{protocol.ErrorShort, protocol.StreamClose}, frags[len(frags)-2:])
	assert.Zero(t, f.provider.streamCalls)
}

func TestEmptySuggestionAborts(t *testing.T) {
	f := newFixture(t)
	f.provider.query = "  \n"
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(true, "u1")))
	assert.Equal(t, []string{
		protocol.StreamOpen, protocol.DebugInfo, protocol.SuggestingQuery,
		protocol.Suggested(""), protocol.ErrorShort, protocol.StreamClose,
	}, out.all())
	assert.Empty(t, f.searcher.calls)
}

func TestSearchIngestAndRelatedQuestions(t *testing.T) {
	f := newFixture(t)
	f.searcher.result = models.SearchResult{
		Links:            []string{"https://a.example", "https://b.example"},
		RelatedQuestions: []string{"Is Tokyo big?", "", "Where is Osaka?"},
	}
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(true, "u1")))
	assert.Equal(t, []string{
		protocol.StreamOpen,
		protocol.DebugInfo,
		protocol.SuggestingQuery,
		protocol.Suggested("capital of japan"),
		protocol.SearchingNotice,
		protocol.DoneNotice,
		web_ingest.ProgressLoading, web_ingest.ProgressDone,
		web_ingest.ProgressLoading, web_ingest.ProgressDone,
		protocol.StoreBuiltNotice,
		protocol.StreamClose,
		protocol.StreamOpen, "Hel", "lo",
		protocol.RelatedQuestion, "Is Tokyo big?", "Where is Osaka?",
		protocol.StreamClose,
	}, out.all())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, f.ingester.urls)
	assert.Equal(t, 2, f.store.Len())
	assert.Contains(t, f.provider.lastMessages[0].Content, "Tokyo is the capital of Japan")
}

func TestSnippetSkipsIngest(t *testing.T) {
	f := newFixture(t)
	f.searcher.result = models.SearchResult{
		Featured: &models.FeaturedSnippet{
			Content: "日本の首都は東京です。",
			Source:  models.Source{Name: "ウィキペディア", Link: "https://ja.wikipedia.org/wiki/東京"},
		},
		Links:            []string{"https://a.example"},
		RelatedQuestions: []string{"Is Tokyo big?"},
	}
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(true, "u1")))
	assert.Empty(t, f.ingester.urls)
	frags := out.all()
	assert.NotContains(t, frags, protocol.StoreBuiltNotice)
	assert.NotContains(t, frags, protocol.RelatedQuestion)
	assert.Equal(t, []string{"Hel", "lo", protocol.CreateAskWithNoSnippetButton, protocol.StreamClose}, frags[len(frags)-4:])
	assert.Equal(t, "Prepared Answer [by ウィキペディア(https://ja.wikipedia.org/wiki/東京)]: 日本の首都は東京です。", f.provider.lastMessages[0].Content)
}

func TestGenerationFailureTerminates(t *testing.T) {
	f := newFixture(t)
	f.provider.streamErr = errors.New("upstream unavailable")
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(false, "u1")))
	assert.Equal(t, []string{
		protocol.StreamClose, protocol.StreamOpen, protocol.TerminatedNotice, protocol.StreamClose,
	}, out.all())
	assert.Equal(t, AwaitMessage, conv.State())
}

func TestStreamFailureMidwayTerminates(t *testing.T) {
	f := newFixture(t)
	f.provider.midErr = errors.New("stream broken")
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(false, "u1")))
	assert.Equal(t, []string{
		protocol.StreamOpen, "Hel", "lo",
		protocol.StreamClose, protocol.StreamOpen, protocol.TerminatedNotice, protocol.StreamClose,
	}, out.all())
	assert.True(t, f.provider.stream.closed)
}

func TestPanicDuringExchangeTerminates(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(Deps{
		Provider: f.provider,
		Searcher: f.searcher,
		Pipeline: f.ingester,
		Resolver: panickingResolver{},
	}, Options{AcceptedVersion: accepted, DefaultModel: "gpt-3.5-turbo"})
	out := &recorder{}
	conv := engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(false, "u1")))
	assert.Equal(t, []string{
		protocol.StreamClose, protocol.StreamOpen, protocol.TerminatedNotice, protocol.StreamClose,
	}, out.all())
	assert.Zero(t, f.provider.streamCalls)
	assert.Equal(t, AwaitMessage, conv.State())

	// the next exchange on the same conversation is handled normally
	require.NoError(t, conv.Handle(context.Background(), []byte(`{"version":"1.0.0"}`)))
	frags := out.all()
	assert.Equal(t, []string{protocol.StreamOpen, protocol.RejectOldVersion, protocol.StreamClose}, frags[len(frags)-3:])
}

func TestSuggestionFailureTerminates(t *testing.T) {
	f := newFixture(t)
	f.provider.completeErr = errors.New("rate limited")
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(true, "u1")))
	assert.Equal(t, []string{
		protocol.StreamOpen, protocol.DebugInfo, protocol.SuggestingQuery,
		protocol.StreamClose, protocol.StreamOpen, protocol.TerminatedNotice, protocol.StreamClose,
	}, out.all())
	assert.Equal(t, 1, f.provider.completeCalls)
	assert.Zero(t, f.provider.streamCalls)
	assert.Empty(t, f.searcher.calls)
	assert.Equal(t, AwaitMessage, conv.State())
}

func TestTransportErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	out := &recorder{failAt: 2}
	conv := f.engine.NewConversation(out)

	err := conv.Handle(context.Background(), request(false, "u1"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []string{protocol.StreamOpen}, out.all())
	assert.Equal(t, AwaitMessage, conv.State())
}

func TestConversationSurvivesFailedExchange(t *testing.T) {
	f := newFixture(t)
	f.provider.streamErr = errors.New("boom")
	out := &recorder{}
	conv := f.engine.NewConversation(out)

	require.NoError(t, conv.Handle(context.Background(), request(false, "u1")))
	f.provider.streamErr = nil
	require.NoError(t, conv.Handle(context.Background(), request(false, "u1")))
	frags := out.all()
	assert.Equal(t, []string{protocol.StreamOpen, "Hel", "lo", protocol.StreamClose}, frags[len(frags)-4:])
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	f.searcher.result = models.SearchResult{Links: []string{"https://a.example"}}
	conv := f.engine.NewConversation(&recorder{})
	var seen []State
	conv.OnTransition(func(_, to State) { seen = append(seen, to) })

	require.NoError(t, conv.Handle(context.Background(), request(true, "u1")))
	assert.Equal(t, []State{
		Validating, Proceeding, SuggestingQuery, Searching, Resolving, Generating, Streaming, AwaitMessage,
	}, seen)

	seen = nil
	require.NoError(t, conv.Handle(context.Background(), []byte(`{"version":"1.0.0"}`)))
	assert.Equal(t, []State{Validating, Rejected, AwaitMessage}, seen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "suggesting_query", SuggestingQuery.String())
	assert.Equal(t, "unknown", State(99).String())
}
