// Package retriever implements filtered semantic search over per-regulator
// chunk collections.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sweetpotato0/regulatory-rag/cache"
	"github.com/sweetpotato0/regulatory-rag/contrib/vector/inmemory"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
	"github.com/sweetpotato0/regulatory-rag/rag/preprocess"
	"github.com/sweetpotato0/regulatory-rag/vector"
)

const (
	DefaultTopK                = 5
	DefaultSimilarityThreshold = 0.55
	DefaultBatchSize           = 50
)

// Collection is one regulator's chunk corpus.
type Collection struct {
	Key          string
	Regulator    string
	Authority    string
	Jurisdiction string
	Chunks       []document.Chunk
}

// Request describes one filtered search against a single collection.
type Request struct {
	Query        string `json:"query"`
	Collection   string `json:"collection"`
	Authority    string `json:"authority,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	BindingLevel string `json:"binding_level,omitempty"`
	TopK         int    `json:"top_k,omitempty"`
}

// Filters echoes the hard filters a search applied.
type Filters struct {
	Authority    string `json:"authority,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	BindingLevel string `json:"binding_level,omitempty"`
}

// Result is the ordered outcome of a search: similarity descending, chunk id
// ascending on ties.
type Result struct {
	Chunks         []document.RetrievedChunk `json:"retrieved_chunks"`
	FiltersApplied Filters                   `json:"filters_applied"`
	Timestamp      time.Time                 `json:"retrieval_timestamp"`
}

// StoreFactory opens the vector store backing one collection.
type StoreFactory func(ctx context.Context, collection string) (vector.VectorStore, error)

// Config controls retrieval behaviour.
type Config struct {
	TopK                int
	SimilarityThreshold float64
	BatchSize           int
}

// Option customizes the service.
type Option func(*Service)

// WithTopK sets the default number of results per collection.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.cfg.TopK = k
		}
	}
}

// WithSimilarityThreshold drops hits scoring below t.
func WithSimilarityThreshold(t float64) Option {
	return func(s *Service) {
		if t >= 0 && t <= 1 {
			s.cfg.SimilarityThreshold = t
		}
	}
}

// WithBatchSize sets how many chunks are embedded per request while building.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cfg.BatchSize = n
		}
	}
}

// WithStoreFactory replaces the default in-memory vector stores.
func WithStoreFactory(f StoreFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.newStore = f
		}
	}
}

// WithCache memoises search results in store.
func WithCache(store cache.Store) Option {
	return func(s *Service) {
		s.cache = cache.NewMemoizer[Result](store, "retrieval")
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type indexed struct {
	info   Collection
	chunks map[string]document.Chunk
	order  []string
	store  vector.VectorStore
}

// Service owns the indexed collections. It is safe for concurrent use once
// built.
type Service struct {
	embedder vector.Embedder
	newStore StoreFactory
	cfg      Config
	cache    *cache.Memoizer[Result]
	now      func() time.Time
	logger   *slog.Logger

	mu          sync.RWMutex
	collections map[string]*indexed
	keys        []string
}

// New creates a retrieval service.
func New(emb vector.Embedder, opts ...Option) *Service {
	s := &Service{
		embedder: emb,
		newStore: func(context.Context, string) (vector.VectorStore, error) {
			return inmemory.NewInMemoryVectorStore(), nil
		},
		cfg: Config{
			TopK:                DefaultTopK,
			SimilarityThreshold: DefaultSimilarityThreshold,
			BatchSize:           DefaultBatchSize,
		},
		now:         time.Now,
		logger:      logging.WithComponent("retriever"),
		collections: make(map[string]*indexed),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Collections returns the indexed collection keys in build order.
func (s *Service) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.keys...)
}

// Collection returns the descriptor of an indexed collection without its chunks.
func (s *Service) Collection(key string) (Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[key]
	if !ok {
		return Collection{}, false
	}
	info := c.info
	info.Chunks = nil
	return info, true
}

// Chunk looks up an indexed chunk.
func (s *Service) Chunk(collection, id string) (document.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return document.Chunk{}, false
	}
	chunk, ok := c.chunks[id]
	if !ok {
		return document.Chunk{}, false
	}
	return chunk.Clone(), true
}

// Build cleans, embeds and indexes every collection. Rebuilding a key
// replaces its previous contents.
func (s *Service) Build(ctx context.Context, collections ...Collection) error {
	if s.embedder == nil {
		return fmt.Errorf("retriever has no embedder: %w", errorskg.ErrInvalidInput)
	}
	for _, col := range collections {
		if strings.TrimSpace(col.Key) == "" {
			return fmt.Errorf("collection key cannot be empty: %w", errorskg.ErrInvalidInput)
		}
		idx, err := s.build(ctx, col)
		if err != nil {
			return fmt.Errorf("build collection %s: %w", col.Key, err)
		}

		s.mu.Lock()
		if _, exists := s.collections[col.Key]; !exists {
			s.keys = append(s.keys, col.Key)
		}
		s.collections[col.Key] = idx
		s.mu.Unlock()

		s.logger.Info("collection indexed", "collection", col.Key, "chunks", len(idx.order))
	}
	return nil
}

func (s *Service) build(ctx context.Context, col Collection) (*indexed, error) {
	store, err := s.newStore(ctx, col.Key)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if err := store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("reset vector store: %w", err)
	}

	idx := &indexed{
		info:   col,
		chunks: make(map[string]document.Chunk, len(col.Chunks)),
		order:  make([]string, 0, len(col.Chunks)),
		store:  store,
	}
	idx.info.Chunks = nil

	for start := 0; start < len(col.Chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(col.Chunks))
		batch := make([]document.Chunk, end-start)
		texts := make([]string, len(batch))
		for i, c := range col.Chunks[start:end] {
			c.Text = preprocess.Clean(c.Text)
			batch[i] = c
			texts[i] = c.Text
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		embeddings := make([]*vector.Embedding, len(batch))
		for i, c := range batch {
			if _, dup := idx.chunks[c.ID]; dup {
				return nil, fmt.Errorf("duplicate chunk_id %s", c.ID)
			}
			idx.chunks[c.ID] = c.Clone()
			idx.order = append(idx.order, c.ID)
			embeddings[i] = &vector.Embedding{ID: c.ID, Vector: vector.Normalize(vectors[i]), Text: c.Text}
		}
		if err := store.AddEmbeddings(ctx, embeddings...); err != nil {
			return nil, fmt.Errorf("store batch at %d: %w", start, err)
		}
	}
	return idx, nil
}

// Retrieve runs a filtered similarity search against one collection. An
// empty result is not an error.
func (s *Service) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errorskg.ErrEmptyQuery
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.TopK
	}

	s.mu.RLock()
	idx, ok := s.collections[req.Collection]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", req.Collection, errorskg.ErrNotFound)
	}

	key := cache.Key(req.Query, req.Authority, req.Jurisdiction, req.BindingLevel, req.Collection, strconv.Itoa(req.TopK))
	res, cached, err := s.cache.Do(ctx, key, func(ctx context.Context) (Result, error) {
		return s.search(ctx, idx, req)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("retrieval finished",
		"collection", req.Collection,
		"query", logging.Trim(req.Query, 120),
		"hits", len(res.Chunks),
		"cached", cached,
	)
	return &res, nil
}

func (s *Service) search(ctx context.Context, idx *indexed, req Request) (Result, error) {
	res := Result{
		Chunks: []document.RetrievedChunk{},
		FiltersApplied: Filters{
			Authority:    req.Authority,
			Jurisdiction: req.Jurisdiction,
			BindingLevel: req.BindingLevel,
		},
		Timestamp: s.now().UTC(),
	}

	ids := HardFilter(idx.order, idx.chunks, req.Authority, req.Jurisdiction, req.BindingLevel)
	if len(ids) == 0 {
		return res, nil
	}

	queryVec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}
	vector.Normalize(queryVec)

	matches, err := idx.store.Search(ctx, vector.SearchRequest{Vector: queryVec, TopK: req.TopK, IDs: ids})
	if err != nil {
		return Result{}, fmt.Errorf("vector search: %w", err)
	}

	for _, m := range matches {
		score := float64(m.Score)
		if score < s.cfg.SimilarityThreshold {
			continue
		}
		chunk, ok := idx.chunks[m.Embedding.ID]
		if !ok {
			continue
		}
		res.Chunks = append(res.Chunks, document.RetrievedChunk{
			ChunkID:          chunk.ID,
			SourceReference:  chunk.SourceReference(),
			SourceRegulation: idx.info.Regulator,
			SimilarityScore:  score,
		})
	}
	sort.SliceStable(res.Chunks, func(i, j int) bool {
		a, b := res.Chunks[i], res.Chunks[j]
		if a.SimilarityScore != b.SimilarityScore {
			return a.SimilarityScore > b.SimilarityScore
		}
		return a.ChunkID < b.ChunkID
	})
	return res, nil
}

// HardFilter returns the ids, in order, of chunks passing the metadata
// filters. Authority and jurisdiction only exclude chunks that carry the
// field; binding level is strict.
func HardFilter(order []string, chunks map[string]document.Chunk, authority, jurisdiction, bindingLevel string) []string {
	out := make([]string, 0, len(order))
	for _, id := range order {
		c := chunks[id]
		if authority != "" && c.Authority != "" && c.Authority != authority {
			continue
		}
		if jurisdiction != "" && c.Jurisdiction != "" && c.Jurisdiction != jurisdiction {
			continue
		}
		if bindingLevel != "" && c.BindingLevel != bindingLevel {
			continue
		}
		out = append(out, id)
	}
	return out
}
