package agents

import (
	"context"
	"errors"
	"reflect"
	"testing"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

func source(answer string, confidence float64) *AgentResult {
	return &AgentResult{
		AgentName:  NameCitation,
		Answer:     answer,
		Citations:  []Citation{RefCitation("Article 6")},
		Confidence: confidence,
		Warnings:   []string{},
	}
}

func TestSummarizeExecutiveBullets(t *testing.T) {
	out, err := NewSummarizationAgent().Summarize(context.Background(), source("- A. - B. - C.", 0.8), ModeExecutive)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out.Answer != "A. B." {
		t.Fatalf("expected %q, got %q", "A. B.", out.Answer)
	}
	if out.Confidence != 0.8 || len(out.Warnings) != 0 || out.AgentName != NameSummarization {
		t.Fatalf("unexpected result %+v", out)
	}
	if !reflect.DeepEqual(out.SourceReferences(), []string{"Article 6"}) {
		t.Fatalf("citations must pass through, got %+v", out.Citations)
	}
}

func TestSummarizeAuditKeepsFour(t *testing.T) {
	answer := "Overview:\n• One. Two.\n* Three — four.\n\nFive. Six."
	out, err := NewSummarizationAgent().Summarize(context.Background(), source(answer, 0.99), ModeAudit)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out.Answer != "One. Two. Three four. Five." {
		t.Fatalf("unexpected summary %q", out.Answer)
	}
	if out.Confidence != 0.95 {
		t.Fatalf("confidence must be capped at 0.95, got %v", out.Confidence)
	}
}

func TestSentenceSegments(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"- A. - B. - C.", []string{"A", "B", "C"}},
		{"Heading:\n- first point.", []string{"first point"}},
		{"no trailing period", []string{"no trailing period"}},
		{"a – b", []string{"a b"}},
		{"Requirements:\n- Firms must report incidents.\n- Firms must test resilience.", []string{"Firms must report incidents", "Firms must test resilience"}},
		{"One.\n- Two.\n— Three.", []string{"One", "Two", "— Three"}},
		{"...\n   \n:", nil},
	}
	for _, tt := range tests {
		if got := SentenceSegments(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SentenceSegments(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummarizeHeadingBeforeBullets(t *testing.T) {
	answer := "Requirements:\n- Firms must report incidents.\n- Firms must test resilience."
	out, err := NewSummarizationAgent().Summarize(context.Background(), source(answer, 0.7), ModeExecutive)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if want := "Firms must report incidents. Firms must test resilience."; out.Answer != want {
		t.Fatalf("expected %q, got %q", want, out.Answer)
	}
}

func TestSummaryConfidenceNeverExceedsSource(t *testing.T) {
	tests := []struct {
		source float64
		want   float64
	}{
		{0.8125, 0.812},
		{0.8, 0.8},
		{0.0005027, 0},
		{0.9999, 0.95},
		{0.57, 0.57},
		{1, 0.95},
		{0, 0},
	}
	agent := NewSummarizationAgent()
	for _, tt := range tests {
		out, err := agent.Summarize(context.Background(), source("Firms must report incidents.", tt.source), ModeExecutive)
		if err != nil {
			t.Fatalf("Summarize(%v): %v", tt.source, err)
		}
		if out.Confidence != tt.want {
			t.Errorf("source %v: expected confidence %v, got %v", tt.source, tt.want, out.Confidence)
		}
		if out.Confidence > min(tt.source, 0.95) {
			t.Errorf("source %v: confidence %v exceeds the ceiling", tt.source, out.Confidence)
		}
	}
}

func TestSummarizeDegradedOutcomes(t *testing.T) {
	agent := NewSummarizationAgent()

	missing, err := agent.Summarize(context.Background(), source("", 0.9), ModeExecutive)
	if err != nil {
		t.Fatalf("missing answer must not be an error: %v", err)
	}
	if missing.Answer != SummaryMissingAnswer || missing.Confidence != 0 ||
		!reflect.DeepEqual(missing.Warnings, []string{WarningMissingAnswer}) {
		t.Fatalf("unexpected degraded result %+v", missing)
	}

	unprocessable, err := agent.Summarize(context.Background(), source("Heading:\n . . .", 0.9), ModeAudit)
	if err != nil {
		t.Fatalf("unprocessable answer must not be an error: %v", err)
	}
	if unprocessable.Answer != SummaryUnprocessable || unprocessable.Confidence != 0 ||
		!reflect.DeepEqual(unprocessable.Warnings, []string{WarningUnprocessable}) {
		t.Fatalf("unexpected degraded result %+v", unprocessable)
	}
}

func TestSummarizeRejectsUnsupportedModeFirst(t *testing.T) {
	_, err := NewSummarizationAgent().Summarize(context.Background(), source("", 0.9), Mode("detailed"))
	if !errors.Is(err, errorskg.ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" audit "); err != nil || m != ModeAudit {
		t.Fatalf("ParseMode(audit) = %v, %v", m, err)
	}
	if _, err := ParseMode("Executive"); !errors.Is(err, errorskg.ErrUnsupportedMode) {
		t.Fatalf("modes are case sensitive, got %v", err)
	}
}
