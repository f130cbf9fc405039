package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

// Risk warnings and the statements that accompany them.
const (
	WarningInsufficientCitations = "Insufficient regulatory citations"
	WarningPartialCoverage       = "Partial regulatory coverage"
	WarningLowConfidence         = "Low model confidence"

	StatementInsufficientCitations = "Answer may not be fully supported by authoritative regulatory sources."
	StatementPartialCoverage       = "Some retrieved regulatory sources were not addressed in the final answer."
	StatementLowConfidence         = "The generated answer exhibits low confidence and may require manual review."
	StatementNoRisk                = "No material regulatory risks detected based on available sources."
)

const (
	DefaultMinCitations           = 1
	DefaultLowConfidenceThreshold = 0.6
)

// RiskOption customizes the risk thresholds.
type RiskOption func(*RiskAgent)

// WithMinCitations sets the citation count below which the answer is
// flagged.
func WithMinCitations(n int) RiskOption {
	return func(a *RiskAgent) {
		if n >= 0 {
			a.minCitations = n
		}
	}
}

// WithLowConfidenceThreshold sets the confidence below which the answer is
// flagged.
func WithLowConfidenceThreshold(t float64) RiskOption {
	return func(a *RiskAgent) {
		if t >= 0 && t <= 1 {
			a.lowConfidence = t
		}
	}
}

// RiskAgent derives warnings and a risk-adjusted confidence from the
// citation result and the retrieval result. It never adds regulatory
// content.
type RiskAgent struct {
	minCitations  int
	lowConfidence float64
}

// NewRiskAgent creates the agent with default thresholds.
func NewRiskAgent(opts ...RiskOption) *RiskAgent {
	a := &RiskAgent{
		minCitations:  DefaultMinCitations,
		lowConfidence: DefaultLowConfidenceThreshold,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Assess runs the citation sufficiency, coverage gap and low confidence
// checks independently.
func (a *RiskAgent) Assess(ctx context.Context, citation *AgentResult, retrieval *RetrievalOutput) (*AgentResult, error) {
	if citation == nil {
		return nil, fmt.Errorf("%w: risk assessment needs a citation result", errorskg.ErrInvalidInput)
	}

	var warnings, statements []string

	if len(citation.Citations) < a.minCitations {
		warnings = append(warnings, WarningInsufficientCitations)
		statements = append(statements, StatementInsufficientCitations)
	}

	if len(CoverageGap(retrieval, citation)) > 0 {
		warnings = append(warnings, WarningPartialCoverage)
		statements = append(statements, StatementPartialCoverage)
	}

	if citation.Confidence < a.lowConfidence {
		warnings = append(warnings, WarningLowConfidence)
		statements = append(statements, StatementLowConfidence)
	}

	confidence := citation.Confidence
	if len(warnings) > 0 {
		confidence *= Penalty(len(warnings))
	}
	confidence = round3(math.Min(math.Max(confidence, 0), 1))

	answer := StatementNoRisk
	if len(statements) > 0 {
		answer = strings.Join(statements, " ")
	}
	return newResult(NameRiskAssessment, answer, citation.Citations, confidence, warnings)
}

// Penalty is the confidence multiplier for n warnings, floored at 0.5.
func Penalty(n int) float64 {
	if n <= 0 {
		return 1
	}
	return math.Max(0.5, 1-0.1*float64(n))
}

// CoverageGap returns the retrieved source references that no citation
// mentions.
func CoverageGap(retrieval *RetrievalOutput, citation *AgentResult) []string {
	cited := make(map[string]struct{}, len(citation.Citations))
	for _, ref := range citation.SourceReferences() {
		cited[ref] = struct{}{}
	}
	var gap []string
	seen := make(map[string]struct{})
	if retrieval == nil {
		return gap
	}
	for _, c := range retrieval.Chunks {
		ref := c.SourceReference
		if ref == "" {
			continue
		}
		if _, ok := cited[ref]; ok {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		gap = append(gap, ref)
	}
	return gap
}
