// Package generation produces citation-bound answers: multi-regulator
// retrieval, a strict source-only prompt and one language model call.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sweetpotato0/regulatory-rag/cache"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/llm"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
	"github.com/sweetpotato0/regulatory-rag/prompt"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
	"github.com/sweetpotato0/regulatory-rag/rag/retriever"
	"github.com/sweetpotato0/regulatory-rag/rag/tokenizer"
)

// Regulator binds a display name to a collection and its retrieval filters.
type Regulator struct {
	Name         string `json:"name" yaml:"name"`
	Collection   string `json:"collection" yaml:"collection"`
	Authority    string `json:"authority" yaml:"authority"`
	Jurisdiction string `json:"jurisdiction" yaml:"jurisdiction"`
}

// DefaultRegulators returns CSSF, DORA and EBA in query order.
func DefaultRegulators() []Regulator {
	return []Regulator{
		{Name: "CSSF", Collection: "cssf", Authority: "CSSF", Jurisdiction: "LU"},
		{Name: "DORA", Collection: "dora", Authority: "European Union", Jurisdiction: "EU"},
		{Name: "EBA", Collection: "eba", Authority: "European Banking Authority", Jurisdiction: "EU"},
	}
}

// Response is the structured citation-bound answer.
type Response struct {
	Query            string                       `json:"query"`
	Answer           string                       `json:"answer"`
	AnswerConfidence float64                      `json:"answer_confidence"`
	RetrievedChunks  []document.RetrievedChunk    `json:"retrieved_chunks"`
	RetrievalFilters map[string]retriever.Filters `json:"retrieval_filters"`
	Timestamp        string                       `json:"timestamp"`
}

// Searcher is the retrieval surface the generator needs.
type Searcher interface {
	Retrieve(ctx context.Context, req retriever.Request) (*retriever.Result, error)
	Chunk(collection, id string) (document.Chunk, bool)
}

// AnswerGenerator produces citation-bound answers.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, topK int) (*Response, error)
}

// Option customizes a Generator.
type Option func(*Generator)

// WithRegulators replaces the default regulator set.
func WithRegulators(regs ...Regulator) Option {
	return func(g *Generator) {
		if len(regs) > 0 {
			g.regulators = append([]Regulator(nil), regs...)
		}
	}
}

// WithTokenBudget caps the source block at maxTokens as counted by tok.
func WithTokenBudget(tok tokenizer.Tokenizer, maxTokens int) Option {
	return func(g *Generator) {
		g.tokenizer = tok
		g.maxSourceTokens = maxTokens
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// Generator implements AnswerGenerator.
type Generator struct {
	searcher        Searcher
	client          llm.Client
	regulators      []Regulator
	tokenizer       tokenizer.Tokenizer
	maxSourceTokens int
	now             func() time.Time
	logger          *slog.Logger
}

// New creates a generator.
func New(searcher Searcher, client llm.Client, opts ...Option) *Generator {
	g := &Generator{
		searcher:   searcher,
		client:     client,
		regulators: DefaultRegulators(),
		now:        time.Now,
		logger:     logging.WithComponent("generation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Regulators returns the configured regulators.
func (g *Generator) Regulators() []Regulator {
	return append([]Regulator(nil), g.regulators...)
}

// Generate retrieves from every regulator, prompts the model with the
// retrieved sources only, and scores the answer by mean similarity.
func (g *Generator) Generate(ctx context.Context, query string, topK int) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errorskg.ErrEmptyQuery
	}
	if g.searcher == nil || g.client == nil {
		return nil, fmt.Errorf("generator not fully configured: %w", errorskg.ErrInvalidInput)
	}

	var (
		lines  []string
		chunks []document.RetrievedChunk
	)
	filters := make(map[string]retriever.Filters, len(g.regulators))
	for _, reg := range g.regulators {
		filters[reg.Name] = retriever.Filters{Authority: reg.Authority, Jurisdiction: reg.Jurisdiction}

		res, err := g.searcher.Retrieve(ctx, retriever.Request{
			Query:        query,
			Collection:   reg.Collection,
			Authority:    reg.Authority,
			Jurisdiction: reg.Jurisdiction,
			TopK:         topK,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", reg.Name, err)
		}
		for _, hit := range res.Chunks {
			chunk, ok := g.searcher.Chunk(reg.Collection, hit.ChunkID)
			if !ok {
				continue
			}
			ref := chunk.SourceReference()
			if ref == "" {
				ref = hit.SourceReference
			}
			lines = append(lines, prompt.SourceLine(reg.Name, ref, chunk.Text))
			chunks = append(chunks, document.RetrievedChunk{
				ChunkID:          chunk.ID,
				SourceReference:  ref,
				SourceRegulation: reg.Name,
				SimilarityScore:  hit.SimilarityScore,
			})
		}
	}

	kept, dropped := tokenizer.Budget(g.tokenizer, lines, g.maxSourceTokens)
	if dropped > 0 {
		g.logger.Warn("source block trimmed to token budget",
			"kept", len(kept), "dropped", dropped, "budget", g.maxSourceTokens)
		chunks = chunks[:len(kept)]
	}

	resp := &Response{
		Query:            query,
		AnswerConfidence: MeanSimilarity(chunks),
		RetrievedChunks:  chunks,
		RetrievalFilters: filters,
	}
	if resp.RetrievedChunks == nil {
		resp.RetrievedChunks = []document.RetrievedChunk{}
	}

	if len(kept) == 0 {
		g.logger.Info("no sources retrieved, skipping model call", "query", logging.Trim(query, 120))
		resp.Answer = prompt.NotAvailable
		resp.Timestamp = g.timestamp()
		return resp, nil
	}

	text, err := prompt.RenderCitationBound(query, kept)
	if err != nil {
		return nil, err
	}
	out, err := g.client.Generate(ctx, &llm.Request{System: prompt.SystemInstruction, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	resp.Answer = strings.TrimSpace(out.Text)
	resp.Timestamp = g.timestamp()

	g.logger.Info("answer generated",
		"query", logging.Trim(query, 120),
		"sources", len(chunks),
		"confidence", resp.AnswerConfidence,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)
	return resp, nil
}

func (g *Generator) timestamp() string {
	return g.now().UTC().Format(time.RFC3339Nano)
}

// MeanSimilarity averages the similarity scores rounded to four decimals;
// no chunks scores 0.
func MeanSimilarity(chunks []document.RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.SimilarityScore
	}
	return math.Round(sum/float64(len(chunks))*1e4) / 1e4
}

// CachedGenerator memoises answers per query and top-k. Concurrent requests
// for the same key share one generation.
type CachedGenerator struct {
	next AnswerGenerator
	memo *cache.Memoizer[Response]
}

// NewCached wraps next with store.
func NewCached(next AnswerGenerator, store cache.Store) *CachedGenerator {
	return &CachedGenerator{next: next, memo: cache.NewMemoizer[Response](store, "answer")}
}

func (c *CachedGenerator) Generate(ctx context.Context, query string, topK int) (*Response, error) {
	resp, _, err := c.memo.Do(ctx, cache.Key(query, strconv.Itoa(topK)), func(ctx context.Context) (Response, error) {
		r, err := c.next.Generate(ctx, query, topK)
		if err != nil {
			return Response{}, err
		}
		return *r, nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
