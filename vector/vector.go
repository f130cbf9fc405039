package vector

import (
	"context"
	"math"
)

// Embedding represents a chunk vector stored in a collection.
type Embedding struct {
	ID     string
	Vector []float32
	Text   string
}

// Match is a search hit with its cosine similarity to the query vector.
type Match struct {
	Embedding *Embedding
	Score     float32
}

// SearchRequest describes a nearest-neighbour lookup.
type SearchRequest struct {
	Vector []float32
	TopK   int
	// IDs restricts the search to these embeddings when non-nil. An empty,
	// non-nil slice matches nothing.
	IDs []string
}

// VectorStore defines the interface for vector storage and similarity search
type VectorStore interface {
	// AddEmbeddings upserts embeddings into the store
	AddEmbeddings(ctx context.Context, embeddings ...*Embedding) error

	// Search returns the TopK most similar embeddings, highest score first
	Search(ctx context.Context, req SearchRequest) ([]Match, error)

	// DeleteEmbedding removes an embedding by ID
	DeleteEmbedding(ctx context.Context, id string) error

	// GetEmbedding retrieves a specific embedding by ID
	GetEmbedding(ctx context.Context, id string) (*Embedding, error)

	// Clear removes all embeddings
	Clear(ctx context.Context) error

	// Count returns the number of embeddings
	Count(ctx context.Context) (int, error)
}

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to embeddings
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize scales the vector to unit length (L2 norm) in place.
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
