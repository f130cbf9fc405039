package prompt

import (
	"strings"
	"testing"
)

func TestSourceLine(t *testing.T) {
	got := SourceLine("DORA", "Article 6", "  Financial entities shall ...  ")
	if got != "[DORA Article 6] Financial entities shall ..." {
		t.Fatalf("unexpected source line %q", got)
	}
}

func TestRenderCitationBound(t *testing.T) {
	out, err := RenderCitationBound("What applies?", []string{
		SourceLine("CSSF", "12.1", "first"),
		SourceLine("EBA", "Guideline 4", "second"),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"Question: What applies?",
		"[CSSF 12.1] first\n[EBA Guideline 4] second\n",
		`respond: "Information not available in retrieved sources."`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("prompt missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "Answer:\n") {
		t.Fatalf("prompt should end with the answer cue:\n%s", out)
	}
}

func TestNewTemplateRejectsBadSyntax(t *testing.T) {
	if _, err := NewTemplate("bad", "{{.Unclosed"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRenderMissingField(t *testing.T) {
	tmpl, err := NewTemplate("t", "{{.Missing}}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := tmpl.Render(map[string]any{}); err == nil {
		t.Fatal("expected error for missing key")
	}
}
