package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/vector"
)

// InMemoryVectorStore implements VectorStore with an exhaustive cosine scan.
type InMemoryVectorStore struct {
	embeddings map[string]*vector.Embedding
	mu         sync.RWMutex
}

// NewInMemoryVectorStore creates a new in-memory vector store
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		embeddings: make(map[string]*vector.Embedding),
	}
}

// AddEmbeddings upserts embeddings into the store
func (s *InMemoryVectorStore) AddEmbeddings(ctx context.Context, embeddings ...*vector.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, embedding := range embeddings {
		if embedding == nil {
			return fmt.Errorf("embedding cannot be nil")
		}
		if embedding.ID == "" {
			return fmt.Errorf("embedding ID cannot be empty")
		}
		if len(embedding.Vector) == 0 {
			return fmt.Errorf("embedding %s: vector cannot be empty", embedding.ID)
		}
		cp := *embedding
		cp.Vector = append([]float32(nil), embedding.Vector...)
		s.embeddings[embedding.ID] = &cp
	}
	return nil
}

// Search finds embeddings similar to the query vector. Ties are broken by ID
// so identical inputs always produce identical output.
func (s *InMemoryVectorStore) Search(ctx context.Context, req vector.SearchRequest) ([]vector.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	var allowed map[string]struct{}
	if req.IDs != nil {
		allowed = make(map[string]struct{}, len(req.IDs))
		for _, id := range req.IDs {
			allowed[id] = struct{}{}
		}
	}

	results := make([]vector.Match, 0, len(s.embeddings))
	for id, emb := range s.embeddings {
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		if len(emb.Vector) != len(req.Vector) {
			continue
		}
		results = append(results, vector.Match{
			Embedding: emb,
			Score:     vector.CosineSimilarity(req.Vector, emb.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Embedding.ID < results[j].Embedding.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteEmbedding removes an embedding by ID
func (s *InMemoryVectorStore) DeleteEmbedding(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.embeddings[id]; !exists {
		return fmt.Errorf("embedding %s: %w", id, errorskg.ErrNotFound)
	}

	delete(s.embeddings, id)
	return nil
}

// GetEmbedding retrieves a specific embedding by ID
func (s *InMemoryVectorStore) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emb, exists := s.embeddings[id]
	if !exists {
		return nil, fmt.Errorf("embedding %s: %w", id, errorskg.ErrNotFound)
	}

	return emb, nil
}

// Clear removes all embeddings
func (s *InMemoryVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.embeddings = make(map[string]*vector.Embedding)
	return nil
}

// Count returns the number of embeddings
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.embeddings), nil
}
