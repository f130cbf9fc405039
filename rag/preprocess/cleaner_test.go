package preprocess

import (
	"strings"
	"testing"
)

func TestCleanBasicCollapsesWhitespace(t *testing.T) {
	got := CleanBasic("  Article\t\t5  ﬁnancial\x07 entities\n\n\n\nshall  - report ")
	want := "Article 5 financial entities\n\nshall - report"
	if got != want {
		t.Fatalf("CleanBasic = %q, want %q", got, want)
	}
}

func TestCleanFlattensHTML(t *testing.T) {
	raw := `<div><h2>Article 19</h2><p>Reporting of major ICT-related incidents.</p><ul><li>initial notification</li><li>final report</li></ul></div>`
	got := Clean(raw)
	for _, want := range []string{"Article 19", "Reporting of major ICT-related incidents.", "- initial notification", "- final report"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "<") {
		t.Fatalf("markup left in %q", got)
	}
}

func TestCleanDropsFurnitureAndDuplicates(t *testing.T) {
	raw := "Official Journal of the European Union L 333/1\nThe management body shall define.\n\nThe management body shall define.\n\nSecond paragraph."
	got := Clean(raw)
	if strings.Contains(got, "Official Journal") {
		t.Fatalf("footer not removed: %q", got)
	}
	if strings.Count(got, "The management body shall define.") != 1 {
		t.Fatalf("duplicate paragraph not removed: %q", got)
	}
}

func TestHTMLToTextTable(t *testing.T) {
	got, err := HTMLToText(`<table><tr><th>Deadline</th><th>Report</th></tr><tr><td>4h</td><td>initial</td></tr></table>`)
	if err != nil {
		t.Fatalf("HTMLToText error: %v", err)
	}
	if !strings.Contains(got, "| Deadline | Report |") || !strings.Contains(got, "| 4h | initial |") {
		t.Fatalf("unexpected table rendering %q", got)
	}
}
