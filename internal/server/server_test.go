package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/internal/augment"
	"github.com/mohammad-safakhou/groundchat/internal/protocol"
	"github.com/mohammad-safakhou/groundchat/internal/session"
	"github.com/mohammad-safakhou/groundchat/provider"
	"github.com/mohammad-safakhou/groundchat/store"
	"github.com/mohammad-safakhou/groundchat/tools/embedding"
	"github.com/mohammad-safakhou/groundchat/tools/web_ingest"
	ingestmodels "github.com/mohammad-safakhou/groundchat/tools/web_ingest/models"
	"github.com/mohammad-safakhou/groundchat/tools/web_search/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkStream struct{ frags []string }

func (s *chunkStream) Recv() (string, error) {
	if len(s.frags) == 0 {
		return "", io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *chunkStream) Close() error { return nil }

type echoProvider struct{}

func (echoProvider) Complete(context.Context, string, []provider.Message) (string, error) {
	return "query", nil
}

func (echoProvider) Stream(_ context.Context, _ string, msgs []provider.Message) (provider.Stream, error) {
	last := msgs[len(msgs)-1].Content
	return &chunkStream{frags: []string{"you said: ", last}}, nil
}

func (echoProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

type noSearch struct{}

func (noSearch) Search(context.Context, string) (models.SearchResult, error) {
	return models.SearchResult{}, nil
}

type noIngest struct{}

func (noIngest) Ingest(context.Context, []string, web_ingest.Progress) ingestmodels.IngestReport {
	return ingestmodels.IngestReport{}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.New(embedding.NewHashEmbedder(32), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	engine := session.NewEngine(session.Deps{
		Provider: echoProvider{},
		Searcher: noSearch{},
		Pipeline: noIngest{},
		Resolver: augment.NewResolver(st, 1),
	}, session.Options{AcceptedVersion: "2.4", DefaultModel: "gpt-3.5-turbo"})
	return New(config.ServerConfig{ReadBufferSize: 1024, WriteBufferSize: 1024}, engine,
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }))
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilClose collects text frames up to and including the n-th stream close.
func readUntilClose(t *testing.T, conn *websocket.Conn, n int) []string {
	t.Helper()
	var out []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for n > 0 {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, mt)
		out = append(out, string(data))
		if string(data) == protocol.StreamClose {
			n--
		}
	}
	return out
}

func TestWebsocketExchange(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).WS())
	defer srv.Close()
	conn := dial(t, srv, "/")

	req := `{"version":"2.4","user":"u1","thread":[{"role":"user","content":"hello"}]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	assert.Equal(t, []string{protocol.StreamOpen, "you said: ", "hello", protocol.StreamClose}, readUntilClose(t, conn, 1))

	// the connection stays usable after a rejected request
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"version":"1.0.0","thread":[]}`)))
	assert.Equal(t, []string{protocol.StreamOpen, protocol.RejectOldVersion, protocol.StreamClose}, readUntilClose(t, conn, 1))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	assert.Equal(t, []string{protocol.StreamOpen, "you said: ", "hello", protocol.StreamClose}, readUntilClose(t, conn, 1))
}

func TestWebsocketOnAPIListener(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).API())
	defer srv.Close()
	conn := dial(t, srv, "/ws")

	req := `{"version":2.4,"thread":[{"role":"user","content":"hi"}]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	assert.Equal(t, []string{
		protocol.StreamOpen, protocol.Warn(protocol.MissingUserNotice), protocol.StreamClose,
		protocol.StreamOpen, "you said: ", "hi", protocol.StreamClose,
	}, readUntilClose(t, conn, 2))
}

func TestLegacyEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).API())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/generate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, protocol.LegacyEndpointText, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).API())
	defer srv.Close()

	for path, want := range map[string]string{"/healthz": "ok", "/metrics": "# metrics\n"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, string(body), path)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Address = "127.0.0.1:0"
	s.cfg.WSAddress = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
