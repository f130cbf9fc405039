package agents

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

// Mode selects how much of the source answer a summary keeps.
type Mode string

const (
	ModeExecutive Mode = "executive"
	ModeAudit     Mode = "audit"
)

// Degraded summary texts and their warnings.
const (
	SummaryMissingAnswer     = "Summary unavailable due to missing citation-bound answer."
	SummaryUnprocessable     = "Summary unavailable due to unprocessable source content."
	WarningMissingAnswer     = "Missing citation-bound answer"
	WarningUnprocessable     = "Unprocessable source content"
	summaryConfidenceCeiling = 0.95
)

var (
	dashArtifact   = regexp.MustCompile(`[^\S\n]+[–—-][^\S\n]+`)
	bulletPrefixes = []string{"- ", "• ", "* "}
)

// ParseMode accepts "executive" and "audit" only.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(s)); m {
	case ModeExecutive, ModeAudit:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", errorskg.ErrUnsupportedMode, s)
	}
}

// Segments returns how many sentence segments the mode keeps.
func (m Mode) Segments() (int, error) {
	switch m {
	case ModeExecutive:
		return 2, nil
	case ModeAudit:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: %q", errorskg.ErrUnsupportedMode, string(m))
	}
}

// SummarizationAgent compresses a citation-bound answer without adding
// claims or citations.
type SummarizationAgent struct{}

// NewSummarizationAgent creates the agent.
func NewSummarizationAgent() *SummarizationAgent {
	return &SummarizationAgent{}
}

// Summarize keeps the first mode-dependent number of sentence segments of
// the source answer. Missing or unprocessable input yields a degraded result
// with zero confidence rather than an error; an unsupported mode is an error
// regardless of input.
func (a *SummarizationAgent) Summarize(ctx context.Context, source *AgentResult, mode Mode) (*AgentResult, error) {
	keep, err := mode.Segments()
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: summarization source is nil", errorskg.ErrInvalidInput)
	}

	if source.Answer == "" {
		return newResult(NameSummarization, SummaryMissingAnswer, source.Citations, 0, []string{WarningMissingAnswer})
	}

	segments := SentenceSegments(source.Answer)
	if len(segments) == 0 {
		return newResult(NameSummarization, SummaryUnprocessable, source.Citations, 0, []string{WarningUnprocessable})
	}

	selected := segments[:min(keep, len(segments))]
	summary := strings.Join(selected, ". ")
	if !strings.HasSuffix(summary, ".") {
		summary += "."
	}

	return newResult(NameSummarization, summary, source.Citations, floor3(math.Min(source.Confidence, summaryConfidenceCeiling)), nil)
}

// SentenceSegments normalises answer text and splits it into trimmed,
// non-empty period-separated segments. Headings (lines ending in ':') and
// leading bullet markers are dropped. Inline dash artifacts are collapsed
// within a line only, so a bullet never joins the line above it.
func SentenceSegments(answer string) []string {
	normalized := dashArtifact.ReplaceAllString(answer, " ")

	var segments []string
	for _, line := range strings.Split(normalized, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		for _, prefix := range bulletPrefixes {
			if strings.HasPrefix(line, prefix) {
				line = strings.TrimSpace(line[len(prefix):])
			}
		}
		for _, part := range strings.Split(line, ".") {
			if part = strings.TrimSpace(part); part != "" {
				segments = append(segments, part)
			}
		}
	}
	return segments
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// floor3 rounds to 3 decimals without ever exceeding v.
func floor3(v float64) float64 {
	if r := round3(v); r <= v {
		return r
	}
	return math.Floor(v*1000) / 1000
}
