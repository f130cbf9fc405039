package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/sweetpotato0/regulatory-rag/agents"
	"github.com/sweetpotato0/regulatory-rag/config"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/orchestrator"
)

func result(name, answer string, confidence float64, warnings ...string) *agents.AgentResult {
	if warnings == nil {
		warnings = []string{}
	}
	return &agents.AgentResult{
		AgentName:  name,
		Answer:     answer,
		Citations:  []agents.Citation{agents.RefCitation("Art. 28")},
		Confidence: confidence,
		Warnings:   warnings,
	}
}

func response(confidence float64, riskWarnings ...string) *orchestrator.Response {
	return &orchestrator.Response{
		Answer:     result(agents.NameCitation, "ICT third-party risk must be managed.", 1),
		Summary:    result(agents.NameSummarization, "ICT third-party risk must be managed.", 1),
		Risk:       result(agents.NameRiskAssessment, "Coverage is adequate.", 1, riskWarnings...),
		Confidence: confidence,
		AuditTrail: orchestrator.AuditTrail{RunID: "run-7", ModelVersion: "gpt-4.1", Timestamp: "2024-03-01T08:30:00Z"},
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "cfg.yaml", "-mode", "audit", "-json", "outsourcing", "rules"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "cfg.yaml" || opts.mode != "audit" || !opts.jsonOutput {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.query != "outsourcing rules" {
		t.Fatalf("unexpected query %q", opts.query)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	cases := map[string][]string{
		"missing query":     {"-config", "cfg.yaml"},
		"query with mcp":    {"-mcp", "question"},
		"both transports":   {"-mcp", "-mcp-http", ":8080"},
		"replay and mcp":    {"-mcp", "-replay", "run-1"},
		"replay with query": {"-replay", "run-1", "question"},
		"unknown flag":      {"-verbose", "question"},
		"blank query words": {"  "},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseFlags(args, io.Discard); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestParseFlagsServeWithoutQuery(t *testing.T) {
	opts, err := parseFlags([]string{"-mcp"}, io.Discard)
	if err != nil || !opts.mcpStdio {
		t.Fatalf("unexpected %+v %v", opts, err)
	}
}

func TestReplayUnknownRun(t *testing.T) {
	cfg := config.Default()
	var stdout, stderr bytes.Buffer
	if code := replay(context.Background(), cfg, "run-7", false, &stdout, &stderr); code != exitFatal {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "load run run-7") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}

	cfg.Audit.Backend = "none"
	stderr.Reset()
	if code := replay(context.Background(), cfg, "run-7", false, &stdout, &stderr); code != exitFatal {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "keeps no records") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestReportSuccess(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := report(&stdout, &stderr, response(1), nil, false)
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	out := stdout.String()
	if strings.Contains(out, "DEGRADED") {
		t.Fatalf("unexpected banner:\n%s", out)
	}
	for _, want := range []string{"Confidence: 1.000", "Answer:", "  - Art. 28", "Run run-7"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReportDegraded(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := report(&stdout, &stderr, response(0.576, "coverage gap: eba"), nil, false)
	if code != exitDegraded {
		t.Fatalf("expected exit 2, got %d", code)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "!! DEGRADED ANSWER") || !strings.Contains(out, "coverage gap: eba") {
		t.Fatalf("expected caveats banner:\n%s", out)
	}
}

func TestReportFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := errorskg.NewStageError(agents.NameCitation, errorskg.ErrNoCitations)
	code := report(&stdout, &stderr, nil, err, false)
	if code != exitFatal {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("no answer must be printed, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "no answer produced (citation)") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestReportJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := report(&stdout, &stderr, response(0.9), nil, true)
	if code != exitDegraded {
		t.Fatalf("confidence below 1 is degraded, got %d", code)
	}
	var decoded orchestrator.Response
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.AuditTrail.RunID != "run-7" || decoded.Confidence != 0.9 {
		t.Fatalf("unexpected decoded response %+v", decoded)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-mcp", "-mcp-http", ":1"}, &stdout, &stderr); code != exitFatal {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if code := run([]string{"-h"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("expected exit 0 for -h, got %d", code)
	}
}
