package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sweetpotato0/regulatory-rag/agents"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

// RetrievalStage queries every configured collection.
type RetrievalStage interface {
	RetrieveAll(ctx context.Context, query string) (*agents.RetrievalOutput, error)
}

// CitationStage produces the citation-bound answer.
type CitationStage interface {
	Answer(ctx context.Context, query string, retrieval *agents.RetrievalOutput) (*agents.CitationOutput, error)
}

// SummaryStage condenses the citation result.
type SummaryStage interface {
	Summarize(ctx context.Context, source *agents.AgentResult, mode agents.Mode) (*agents.AgentResult, error)
}

// RiskStage audits the citation result against the retrieval output.
type RiskStage interface {
	Assess(ctx context.Context, citation *agents.AgentResult, retrieval *agents.RetrievalOutput) (*agents.AgentResult, error)
}

// Agents groups the four pipeline stages.
type Agents struct {
	Retrieval RetrievalStage
	Citation  CitationStage
	Summary   SummaryStage
	Risk      RiskStage
}

// State is a pipeline state recorded in the audit trail.
type State string

const (
	StateInit      State = "INIT"
	StateRetrieved State = "RETRIEVED"
	StateCited     State = "CITED"
	StateAnalysed  State = "ANALYSED"
	StateFused     State = "FUSED"
	StateDone      State = "DONE"
)

// AgentOrder is the fixed agent-name list recorded in every audit trail.
var AgentOrder = []string{
	agents.NameRetrieval,
	agents.NameCitation,
	agents.NameSummarization,
	agents.NameRiskAssessment,
}

// AuditTrail describes a run. Timestamp is captured before any stage runs.
type AuditTrail struct {
	RunID        string   `json:"run_id"`
	Query        string   `json:"query"`
	ModelVersion string   `json:"model_version"`
	Agents       []string `json:"agents"`
	Timestamp    string   `json:"timestamp"`
	States       []State  `json:"states"`
}

func (a AuditTrail) clone() AuditTrail {
	a.Agents = append([]string(nil), a.Agents...)
	a.States = append([]State(nil), a.States...)
	return a
}

// Response is the full orchestration result.
type Response struct {
	Answer     *agents.AgentResult `json:"answer"`
	Summary    *agents.AgentResult `json:"summary"`
	Risk       *agents.AgentResult `json:"risk"`
	Confidence float64             `json:"confidence"`
	AuditTrail AuditTrail          `json:"audit_trail"`
}

// Degraded reports whether the answer carries caveats: fused confidence
// below 1 or a warning from any stage.
func (r *Response) Degraded() bool {
	if r == nil {
		return false
	}
	if r.Confidence < 1 {
		return true
	}
	for _, res := range []*agents.AgentResult{r.Answer, r.Summary, r.Risk} {
		if res != nil && len(res.Warnings) > 0 {
			return true
		}
	}
	return false
}

// Warnings collects the warnings of every stage, answer first.
func (r *Response) Warnings() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, res := range []*agents.AgentResult{r.Answer, r.Summary, r.Risk} {
		if res != nil {
			out = append(out, res.Warnings...)
		}
	}
	return out
}

// DecodeResponse parses a response stored by an audit recorder. Every stage
// result is checked against the AgentResult contract again, so a tampered or
// truncated record fails with errors.ErrContractViolation.
func DecodeResponse(raw []byte) (*Response, error) {
	var doc struct {
		Answer     json.RawMessage `json:"answer"`
		Summary    json.RawMessage `json:"summary"`
		Risk       json.RawMessage `json:"risk"`
		Confidence float64         `json:"confidence"`
		AuditTrail AuditTrail      `json:"audit_trail"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errorskg.ErrContractViolation, err)
	}
	if math.IsNaN(doc.Confidence) || doc.Confidence < 0 || doc.Confidence > 1 {
		return nil, fmt.Errorf("%w: fused confidence %v outside [0,1]", errorskg.ErrContractViolation, doc.Confidence)
	}

	resp := &Response{Confidence: doc.Confidence, AuditTrail: doc.AuditTrail}
	for _, part := range []struct {
		name string
		raw  json.RawMessage
		dst  **agents.AgentResult
	}{
		{"answer", doc.Answer, &resp.Answer},
		{"summary", doc.Summary, &resp.Summary},
		{"risk", doc.Risk, &resp.Risk},
	} {
		res, err := agents.Decode(part.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", part.name, err)
		}
		*part.dst = res
	}
	return resp, nil
}
