package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
	"github.com/sweetpotato0/regulatory-rag/rag/retriever"
)

// DefaultCollections is the fixed collection order queried per run.
var DefaultCollections = []string{"cssf", "dora", "eba"}

// Retriever is the retrieval collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, req retriever.Request) (*retriever.Result, error)
}

// RetrievalOutput pairs the validated result with the raw chunks handed to
// later stages.
type RetrievalOutput struct {
	Result *AgentResult              `json:"agent_result"`
	Chunks []document.RetrievedChunk `json:"retrieved_chunks"`
}

// SourceReferences returns the distinct, non-empty source labels of the
// retrieved chunks.
func (o *RetrievalOutput) SourceReferences() map[string]struct{} {
	refs := make(map[string]struct{})
	if o == nil {
		return refs
	}
	for _, c := range o.Chunks {
		if c.SourceReference != "" {
			refs[c.SourceReference] = struct{}{}
		}
	}
	return refs
}

// RetrievalAgent queries every configured collection for a run.
type RetrievalAgent struct {
	retriever   Retriever
	collections []string
	logger      *slog.Logger
}

// NewRetrievalAgent creates the agent; with no collections it uses
// DefaultCollections.
func NewRetrievalAgent(r Retriever, collections ...string) *RetrievalAgent {
	if len(collections) == 0 {
		collections = DefaultCollections
	}
	return &RetrievalAgent{
		retriever:   r,
		collections: append([]string(nil), collections...),
		logger:      logging.WithComponent("retrieval_agent"),
	}
}

// Collections returns the query order.
func (a *RetrievalAgent) Collections() []string {
	return append([]string(nil), a.collections...)
}

// RetrieveAll concatenates hits from every collection in order. A failing
// collection counts as empty; the run only fails when nothing was found
// anywhere.
func (a *RetrievalAgent) RetrieveAll(ctx context.Context, query string) (*RetrievalOutput, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errorskg.ErrEmptyQuery
	}

	var (
		chunks  []document.RetrievedChunk
		failed  int
		lastErr error
	)
	refs := make(map[string]struct{})

	for _, key := range a.collections {
		res, err := a.retriever.Retrieve(ctx, retriever.Request{Query: query, Collection: key})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("retrieve %s: %w", key, err)
			}
			failed++
			lastErr = err
			a.logger.Warn("collection unavailable, treating as empty", "collection", key, "error", err)
			continue
		}
		for _, c := range res.Chunks {
			chunks = append(chunks, c)
			if c.SourceReference != "" {
				refs[c.SourceReference] = struct{}{}
			}
		}
	}

	if len(chunks) == 0 {
		if failed == len(a.collections) && lastErr != nil {
			return nil, fmt.Errorf("%w: all %d collections failed: %w", errorskg.ErrNoRelevantChunks, failed, lastErr)
		}
		return nil, errorskg.ErrNoRelevantChunks
	}
	if failed > 0 {
		a.logger.Warn("retrieval completed with unavailable collections", "failed", failed, "total", len(a.collections))
	}

	sorted := make([]string, 0, len(refs))
	for ref := range refs {
		sorted = append(sorted, ref)
	}
	sort.Strings(sorted)
	citations := make([]Citation, len(sorted))
	for i, ref := range sorted {
		citations[i] = RefCitation(ref)
	}

	result, err := newResult(NameRetrieval,
		fmt.Sprintf("Retrieved %d relevant regulatory chunks.", len(chunks)),
		citations, 1.0, nil)
	if err != nil {
		return nil, err
	}
	return &RetrievalOutput{Result: result, Chunks: chunks}, nil
}
