package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweetpotato0/regulatory-rag/cache"
	"github.com/sweetpotato0/regulatory-rag/llm"
	"github.com/sweetpotato0/regulatory-rag/prompt"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
	"github.com/sweetpotato0/regulatory-rag/rag/retriever"
	"github.com/sweetpotato0/regulatory-rag/rag/tokenizer"
)

type stubSearcher struct {
	hits   map[string][]document.RetrievedChunk
	chunks map[string]document.Chunk
	err    error
	reqs   []retriever.Request
}

func (s *stubSearcher) Retrieve(ctx context.Context, req retriever.Request) (*retriever.Result, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &retriever.Result{Chunks: s.hits[req.Collection]}, nil
}

func (s *stubSearcher) Chunk(collection, id string) (document.Chunk, bool) {
	c, ok := s.chunks[id]
	return c, ok
}

type stubLLM struct {
	calls   atomic.Int32
	prompts []string
	reply   string
}

func (s *stubLLM) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.calls.Add(1)
	s.prompts = append(s.prompts, req.Prompt)
	return &llm.Response{Text: "  " + s.reply + "\n"}, nil
}

func fixture() *stubSearcher {
	return &stubSearcher{
		hits: map[string][]document.RetrievedChunk{
			"cssf": {{ChunkID: "cssf_1", SourceReference: "1.2", SimilarityScore: 0.9}},
			"dora": {
				{ChunkID: "dora_6", SourceReference: "Article 6", SimilarityScore: 0.8},
				{ChunkID: "dora_gone", SourceReference: "Article 99", SimilarityScore: 0.7},
			},
		},
		chunks: map[string]document.Chunk{
			"cssf_1": {ID: "cssf_1", SectionID: "1.2", Text: "Management body approves the ICT strategy."},
			"dora_6": {ID: "dora_6", ArticleNumber: "Article 6", Text: "Financial entities shall have an ICT risk framework."},
		},
	}
}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestGenerateBuildsCitationBoundAnswer(t *testing.T) {
	searcher := fixture()
	model := &stubLLM{reply: "The management body approves [CSSF 1.2]."}
	g := New(searcher, model, WithClock(fixedClock))

	resp, err := g.Generate(context.Background(), "Who approves the ICT strategy?", 5)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if resp.Answer != "The management body approves [CSSF 1.2]." {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
	if resp.AnswerConfidence != 0.85 {
		t.Fatalf("expected mean similarity 0.85, got %v", resp.AnswerConfidence)
	}
	if len(resp.RetrievedChunks) != 2 {
		t.Fatalf("chunks without metadata must be skipped: %+v", resp.RetrievedChunks)
	}
	if resp.RetrievedChunks[1].SourceRegulation != "DORA" {
		t.Fatalf("unexpected regulation %+v", resp.RetrievedChunks[1])
	}
	if resp.RetrievalFilters["EBA"].Authority != "European Banking Authority" {
		t.Fatalf("missing EBA filters: %+v", resp.RetrievalFilters)
	}
	if resp.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp %q", resp.Timestamp)
	}

	if len(searcher.reqs) != 3 || searcher.reqs[0].Collection != "cssf" || searcher.reqs[2].Collection != "eba" {
		t.Fatalf("expected cssf, dora, eba retrieval, got %+v", searcher.reqs)
	}
	if searcher.reqs[1].Authority != "European Union" || searcher.reqs[1].TopK != 5 {
		t.Fatalf("unexpected DORA request %+v", searcher.reqs[1])
	}

	p := model.prompts[0]
	for _, want := range []string{
		"[CSSF 1.2] Management body approves the ICT strategy.",
		"[DORA Article 6] Financial entities shall have an ICT risk framework.",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestGenerateWithoutSourcesSkipsModel(t *testing.T) {
	model := &stubLLM{reply: "should not be used"}
	g := New(&stubSearcher{}, model)

	resp, err := g.Generate(context.Background(), "Unrelated question", 5)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Answer != prompt.NotAvailable || resp.AnswerConfidence != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.RetrievedChunks == nil || len(resp.RetrievedChunks) != 0 {
		t.Fatalf("expected empty, non-nil chunks: %#v", resp.RetrievedChunks)
	}
	if model.calls.Load() != 0 {
		t.Fatal("model must not be called without sources")
	}
}

func TestGenerateTrimsToTokenBudget(t *testing.T) {
	model := &stubLLM{reply: "ok"}
	g := New(fixture(), model, WithTokenBudget(tokenizer.NewWordTokenizer(), 20))

	resp, err := g.Generate(context.Background(), "ICT strategy", 5)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.RetrievedChunks) != 1 || resp.RetrievedChunks[0].ChunkID != "cssf_1" {
		t.Fatalf("expected only the first source to survive, got %+v", resp.RetrievedChunks)
	}
	if resp.AnswerConfidence != 0.9 {
		t.Fatalf("confidence must cover kept sources only, got %v", resp.AnswerConfidence)
	}
	if strings.Contains(model.prompts[0], "DORA") {
		t.Fatal("trimmed source leaked into the prompt")
	}
}

func TestGeneratePropagatesRetrievalError(t *testing.T) {
	boom := errors.New("index offline")
	g := New(&stubSearcher{err: boom}, &stubLLM{})
	if _, err := g.Generate(context.Background(), "q", 5); !errors.Is(err, boom) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
}

func TestMeanSimilarityRounding(t *testing.T) {
	got := MeanSimilarity([]document.RetrievedChunk{{SimilarityScore: 0.61234}, {SimilarityScore: 0.7}})
	if got != 0.6562 {
		t.Fatalf("expected 0.6562, got %v", got)
	}
}

func TestCachedGeneratorGeneratesOnce(t *testing.T) {
	model := &stubLLM{reply: "cached answer"}
	cached := NewCached(New(fixture(), model), cache.NewMemoryStore())

	for i := 0; i < 3; i++ {
		resp, err := cached.Generate(context.Background(), "ICT strategy", 5)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if resp.Answer != "cached answer" {
			t.Fatalf("unexpected answer %q", resp.Answer)
		}
	}
	if model.calls.Load() != 1 {
		t.Fatalf("expected one model call, got %d", model.calls.Load())
	}
}
