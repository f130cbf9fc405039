package agents

import (
	"context"
	"errors"
	"math"
	"testing"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
	"github.com/sweetpotato0/regulatory-rag/rag/generation"
)

type stubGenerator struct {
	resp  *generation.Response
	err   error
	topK  int
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, query string, topK int) (*generation.Response, error) {
	s.calls++
	s.topK = topK
	return s.resp, s.err
}

func TestAnswerNormalizesGeneratorResponse(t *testing.T) {
	gen := &stubGenerator{resp: &generation.Response{
		Answer:           "Institutions must notify [DORA Article 19].",
		AnswerConfidence: 0.7345,
		RetrievedChunks: []document.RetrievedChunk{
			{ChunkID: "dora_19", SourceReference: "Article 19", SourceRegulation: "DORA", SimilarityScore: 0.7345},
		},
		Timestamp: "2026-01-01T00:00:00Z",
	}}

	out, err := NewCitationAgent(gen, 0).Answer(context.Background(), "incident reporting", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gen.topK != DefaultAnswerTopK {
		t.Fatalf("expected default top-k, got %d", gen.topK)
	}
	r := out.Result
	if r.AgentName != NameCitation || r.Confidence != 0.7345 || len(r.Warnings) != 0 {
		t.Fatalf("unexpected result %+v", r)
	}
	if len(r.Citations) != 1 || !r.Citations[0].Structured() || r.Citations[0].SourceReference() != "Article 19" {
		t.Fatalf("chunks must become structured citations: %+v", r.Citations)
	}
	if out.Timestamp != "2026-01-01T00:00:00Z" || len(out.Chunks) != 1 {
		t.Fatalf("unexpected passthrough %+v", out)
	}

	// The agent owns its copy of the chunks.
	gen.resp.RetrievedChunks[0].SourceReference = "mutated"
	if out.Chunks[0].SourceReference != "Article 19" || r.Citations[0].SourceReference() != "Article 19" {
		t.Fatal("citation output aliases the generator response")
	}
}

func TestAnswerWithoutSourcesHasNoCitations(t *testing.T) {
	gen := &stubGenerator{resp: &generation.Response{Answer: "Information not available in retrieved sources."}}
	out, err := NewCitationAgent(gen, 5).Answer(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if out.Result.Citations == nil || len(out.Result.Citations) != 0 {
		t.Fatalf("expected empty citation sequence, got %#v", out.Result.Citations)
	}
}

func TestAnswerPropagatesGeneratorError(t *testing.T) {
	boom := errors.New("model unavailable")
	_, err := NewCitationAgent(&stubGenerator{err: boom}, 5).Answer(context.Background(), "q", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

func TestAnswerRejectsOutOfRangeConfidence(t *testing.T) {
	gen := &stubGenerator{resp: &generation.Response{Answer: "x", AnswerConfidence: math.NaN()}}
	_, err := NewCitationAgent(gen, 5).Answer(context.Background(), "q", nil)
	if !errors.Is(err, errorskg.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}
