package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/groundchat/tools/embedding"
)

const rrfK = 60 // reciprocal-rank-fusion constant

var (
	ErrEmptyQuery = errors.New("store: empty query")
	// ErrNoSnapshot is returned by a Snapshotter that has nothing saved yet.
	ErrNoSnapshot = errors.New("store: no snapshot")
)

// Document is one indexed chunk of a fetched page.
type Document struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Chunk int    `json:"chunk"`
}

type Hit struct {
	Document
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Snapshot is the persisted form of a Store. Vectors[i] belongs to Documents[i] and
// may be nil when the document was never embedded.
type Snapshot struct {
	Model     string
	Documents []Document
	Vectors   [][]float32
}

type Snapshotter interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

type Stats struct {
	Documents int    `json:"documents"`
	Sources   int    `json:"sources"`
	Vectors   int    `json:"vectors"`
	Model     string `json:"model"`
}

// indexed is what bleve sees of a Document.
type indexed struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Store is a process-wide hybrid similarity index: bleve BM25 over chunk text plus
// in-memory cosine vectors, fused with reciprocal rank fusion. Documents are only
// ever added or overwritten by ID, never removed.
type Store struct {
	mu       sync.RWMutex
	bleve    bleve.Index
	docs     map[string]Document
	order    []string
	vectors  map[string][]float32
	embedder embedding.Embedder
	snap     Snapshotter
	logger   *log.Logger
}

// New returns an empty store. snap may be nil, in which case Save is a no-op.
func New(embedder embedding.Embedder, snap Snapshotter) (*Store, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Store{
		bleve:    index,
		docs:     make(map[string]Document),
		vectors:  make(map[string][]float32),
		embedder: embedder,
		snap:     snap,
		logger:   log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}, nil
}

// Open loads the last snapshot if one exists and returns an empty store otherwise.
func Open(ctx context.Context, embedder embedding.Embedder, snap Snapshotter) (*Store, error) {
	s, err := New(embedder, snap)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return s, nil
	}
	data, err := snap.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.logger.Printf("no snapshot found, starting empty")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.restore(data); err != nil {
		return nil, err
	}
	s.logger.Printf("loaded %d documents from snapshot", len(s.order))
	return s, nil
}

func (s *Store) restore(data *Snapshot) error {
	keepVectors := data.Model == s.embedder.ModelInfo()
	if !keepVectors {
		s.logger.Printf("warn: snapshot embedded with %q, current model is %q; keyword search only for loaded documents", data.Model, s.embedder.ModelInfo())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range data.Documents {
		var vec []float32
		if keepVectors && i < len(data.Vectors) {
			vec = data.Vectors[i]
		}
		if err := s.put(d, vec); err != nil {
			return fmt.Errorf("restore %s: %w", d.ID, err)
		}
	}
	return nil
}

// Add embeds and indexes docs. Embedding happens before the lock is taken, so a
// failure leaves the store untouched.
func (s *Store) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("store: document %d has no id", i)
		}
		texts[i] = d.Text
	}
	vecs, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range docs {
		if err := s.put(d, vecs[i]); err != nil {
			return fmt.Errorf("index %s: %w", d.ID, err)
		}
	}
	return nil
}

// put requires s.mu held for writing.
func (s *Store) put(d Document, vec []float32) error {
	if err := s.bleve.Index(d.ID, indexed{Title: d.Title, Text: d.Text}); err != nil {
		return err
	}
	if _, exists := s.docs[d.ID]; !exists {
		s.order = append(s.order, d.ID)
	}
	s.docs[d.ID] = d
	if len(vec) > 0 {
		s.vectors[d.ID] = vec
	} else {
		delete(s.vectors, d.ID)
	}
	return nil
}

// SimilaritySearch returns up to k documents most relevant to text. An empty store
// yields no hits and no error. When the query cannot be embedded, keyword ranking
// alone is used.
func (s *Store) SimilaritySearch(ctx context.Context, text string, k int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = 1
	}
	if s.Len() == 0 {
		return []Hit{}, nil
	}

	var qv []float32
	vecs, err := s.embedder.EmbedMany(ctx, []string{text})
	if err != nil {
		s.logger.Printf("warn: query embedding failed, keyword ranking only: %v", err)
	} else if len(vecs) == 1 {
		qv = vecs[0]
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	bm, err := s.bm25Search(text, k*3)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	var vec []Hit
	if qv != nil {
		vec = s.vectorSearch(qv, k*3)
	}
	return fuseRRF(bm, vec, k), nil
}

// bm25Search requires s.mu held.
func (s *Store) bm25Search(q string, k int) ([]Hit, error) {
	query := bleve.NewMatchQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := s.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		doc, ok := s.docs[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{Document: doc, Score: hit.Score, Rank: i + 1})
	}
	return out, nil
}

// vectorSearch requires s.mu held.
func (s *Store) vectorSearch(q []float32, k int) []Hit {
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(s.vectors))
	for _, id := range s.order {
		v, ok := s.vectors[id]
		if !ok {
			continue
		}
		scoreds = append(scoreds, scored{id: id, score: cosine(q, v)})
	}
	sort.SliceStable(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	out := make([]Hit, 0, min(k, len(scoreds)))
	for i, sc := range scoreds {
		if len(out) >= k {
			break
		}
		out = append(out, Hit{Document: s.docs[sc.id], Score: sc.score, Rank: i + 1})
	}
	return out
}

func fuseRRF(a, b []Hit, k int) []Hit {
	type agg struct {
		item  Hit
		score float64
		best  int
	}
	m := map[string]*agg{}
	add := func(list []Hit) {
		for _, h := range list {
			x, ok := m[h.ID]
			if !ok {
				x = &agg{item: h, best: h.Rank}
				m[h.ID] = x
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
			if h.Rank < x.best {
				x.best = h.Rank
			}
		}
	}
	add(a)
	add(b)

	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		if items[i].best != items[j].best {
			return items[i].best < items[j].best
		}
		return items[i].item.ID < items[j].item.ID
	})
	out := make([]Hit, 0, min(k, len(items)))
	for i := 0; i < min(k, len(items)); i++ {
		h := items[i].item
		h.Score = items[i].score
		h.Rank = i + 1
		out = append(out, h)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Save writes a consistent copy of the store through the snapshotter. Concurrent
// saves race at the sink; the last one written wins.
func (s *Store) Save(ctx context.Context) error {
	if s.snap == nil {
		return nil
	}
	return s.snap.Save(ctx, s.Snapshot())
}

func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{
		Model:     s.embedder.ModelInfo(),
		Documents: make([]Document, 0, len(s.order)),
		Vectors:   make([][]float32, 0, len(s.order)),
	}
	for _, id := range s.order {
		snap.Documents = append(snap.Documents, s.docs[id])
		snap.Vectors = append(snap.Vectors, s.vectors[id])
	}
	return snap
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := map[string]struct{}{}
	for _, d := range s.docs {
		sources[d.URL] = struct{}{}
	}
	return Stats{
		Documents: len(s.order),
		Sources:   len(sources),
		Vectors:   len(s.vectors),
		Model:     s.embedder.ModelInfo(),
	}
}

func (s *Store) Close() error {
	return s.bleve.Close()
}
