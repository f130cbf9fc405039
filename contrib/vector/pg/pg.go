package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/vector"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PGVectorStore implements VectorStore using PostgreSQL with the pgvector extension.
// Each regulatory collection lives in its own table.
type PGVectorStore struct {
	db        *sql.DB
	dimension int
	tableName string
	ownsDB    bool
}

// PGVectorConfig holds pgvector configuration
type PGVectorConfig struct {
	DSN       string
	Dimension int    // Embedding dimension (default: 1536 for text-embedding-3-small)
	TableName string // Table name (default: regrag_vectors)
}

// DefaultPGVectorConfig returns default pgvector configuration
func DefaultPGVectorConfig() *PGVectorConfig {
	return &PGVectorConfig{
		DSN:       "host=127.0.0.1 port=5432 user=postgres dbname=regulatory_rag sslmode=disable",
		Dimension: 1536,
		TableName: "regrag_vectors",
	}
}

// NewPGVectorStore opens a connection and creates the collection table.
func NewPGVectorStore(ctx context.Context, config *PGVectorConfig) (*PGVectorStore, error) {
	if config == nil {
		config = DefaultPGVectorConfig()
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store, err := NewWithDB(ctx, db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewWithDB creates a store on a shared connection pool, one table per collection.
func NewWithDB(ctx context.Context, db *sql.DB, config *PGVectorConfig) (*PGVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	defaults := DefaultPGVectorConfig()
	if config == nil {
		config = defaults
	}
	table := config.TableName
	if table == "" {
		table = defaults.TableName
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: %w", table, errorskg.ErrInvalidInput)
	}
	dim := config.Dimension
	if dim <= 0 {
		dim = defaults.Dimension
	}

	store := &PGVectorStore{db: db, dimension: dim, tableName: table}
	if err := store.setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup pgvector: %w", err)
	}
	return store, nil
}

func (s *PGVectorStore) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		text TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension)

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// AddEmbeddings upserts embeddings in a single transaction.
func (s *PGVectorStore) AddEmbeddings(ctx context.Context, embeddings ...*vector.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
	INSERT INTO %s (id, text, embedding)
	VALUES ($1, $2, $3::vector)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, s.tableName)

	for _, embedding := range embeddings {
		if embedding == nil {
			return fmt.Errorf("embedding cannot be nil")
		}
		if embedding.ID == "" {
			return fmt.Errorf("embedding ID cannot be empty")
		}
		if len(embedding.Vector) != s.dimension {
			return fmt.Errorf("embedding %s dimension mismatch: expected %d, got %d", embedding.ID, s.dimension, len(embedding.Vector))
		}
		if _, err := tx.ExecContext(ctx, query, embedding.ID, embedding.Text, VectorLiteral(embedding.Vector)); err != nil {
			return fmt.Errorf("failed to add embedding %s: %w", embedding.ID, err)
		}
	}
	return tx.Commit()
}

// Search ranks rows by cosine similarity (1 - cosine distance).
func (s *PGVectorStore) Search(ctx context.Context, req vector.SearchRequest) ([]vector.Match, error) {
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if len(req.Vector) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", s.dimension, len(req.Vector))
	}
	if req.IDs != nil && len(req.IDs) == 0 {
		return nil, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	args := []any{VectorLiteral(req.Vector), topK}
	where := ""
	if req.IDs != nil {
		where = "WHERE id = ANY($3)"
		args = append(args, pq.Array(req.IDs))
	}

	query := fmt.Sprintf(`
	SELECT id, text, embedding::text, 1 - (embedding <=> $1::vector) AS score
	FROM %s
	%s
	ORDER BY embedding <=> $1::vector, id
	LIMIT $2
	`, s.tableName, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	matches := make([]vector.Match, 0, topK)
	for rows.Next() {
		var id, text, literal string
		var score float64
		if err := rows.Scan(&id, &text, &literal, &score); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec, err := ParseVector(literal)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector for embedding %s: %w", id, err)
		}
		matches = append(matches, vector.Match{
			Embedding: &vector.Embedding{ID: id, Text: text, Vector: vec},
			Score:     float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	return matches, nil
}

// DeleteEmbedding removes an embedding by ID
func (s *PGVectorStore) DeleteEmbedding(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("embedding %s: %w", id, errorskg.ErrNotFound)
	}
	return nil
}

// GetEmbedding retrieves a specific embedding by ID
func (s *PGVectorStore) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	query := fmt.Sprintf(`SELECT id, text, embedding::text FROM %s WHERE id = $1`, s.tableName)

	var embID, text, literal string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&embID, &text, &literal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("embedding %s: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	vec, err := ParseVector(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vector: %w", err)
	}
	return &vector.Embedding{ID: embID, Text: text, Vector: vec}, nil
}

// Clear removes all embeddings
func (s *PGVectorStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}

// Count returns the number of embeddings
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}

// Close closes the database connection when the store opened it.
func (s *PGVectorStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// VectorLiteral renders a pgvector literal such as [0.1,0.2].
func VectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseVector parses a pgvector text literal.
func ParseVector(str string) ([]float32, error) {
	str = strings.TrimSpace(str)
	str = strings.TrimPrefix(str, "[")
	str = strings.TrimSuffix(str, "]")
	if strings.TrimSpace(str) == "" {
		return []float32{}, nil
	}
	parts := strings.Split(str, ",")

	vec := make([]float32, 0, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector component at index %d: %q", i, part)
		}
		vec = append(vec, float32(v))
	}
	return vec, nil
}
