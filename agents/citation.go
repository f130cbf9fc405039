package agents

import (
	"context"
	"fmt"
	"strings"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
	"github.com/sweetpotato0/regulatory-rag/rag/generation"
)

// DefaultAnswerTopK is the per-regulator top-k requested from the generator.
const DefaultAnswerTopK = 5

// Generator is the citation-bound answer collaborator.
type Generator interface {
	Generate(ctx context.Context, query string, topK int) (*generation.Response, error)
}

// CitationOutput carries the validated result together with the
// generator's chunks and timestamp.
type CitationOutput struct {
	Result    *AgentResult              `json:"agent_result"`
	Chunks    []document.RetrievedChunk `json:"retrieved_chunks"`
	Timestamp string                    `json:"timestamp"`
}

// CitationAgent adapts the generator response to the result contract. It
// adds no interpretation of its own.
type CitationAgent struct {
	generator Generator
	topK      int
}

// NewCitationAgent creates the agent. A non-positive topK selects
// DefaultAnswerTopK.
func NewCitationAgent(gen Generator, topK int) *CitationAgent {
	if topK <= 0 {
		topK = DefaultAnswerTopK
	}
	return &CitationAgent{generator: gen, topK: topK}
}

// Answer delegates to the generator. The retrieval output is part of the
// stage signature so wrappers see the full input; the generator retrieves
// on its own.
func (a *CitationAgent) Answer(ctx context.Context, query string, _ *RetrievalOutput) (*CitationOutput, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errorskg.ErrEmptyQuery
	}
	resp, err := a.generator.Generate(ctx, query, a.topK)
	if err != nil {
		return nil, fmt.Errorf("citation-bound generation: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: generator returned no response", errorskg.ErrContractViolation)
	}

	chunks := append([]document.RetrievedChunk{}, resp.RetrievedChunks...)
	citations := make([]Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = ChunkCitation(c)
	}

	result, err := newResult(NameCitation, resp.Answer, citations, resp.AnswerConfidence, nil)
	if err != nil {
		return nil, err
	}
	return &CitationOutput{Result: result, Chunks: chunks, Timestamp: resp.Timestamp}, nil
}
