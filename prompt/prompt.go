// Package prompt renders the citation-bound prompts sent to the language
// model.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// NotAvailable is the exact answer returned when the sources do not cover
// the question.
const NotAvailable = "Information not available in retrieved sources."

// SystemInstruction is sent as the system message of every generation call.
const SystemInstruction = "You are a compliance-aware AI. Answer strictly using provided source chunks."

const citationBoundText = `You are a compliance-aware AI. Answer the regulatory question strictly using the provided source chunks.
Do NOT hallucinate. Cite sources inline in the format [REGULATION chunk_id / article / paragraph].
If information is missing, respond: "{{.NotAvailable}}"

Question: {{.Question}}

Source Chunks:
{{range .Sources}}{{.}}
{{end}}
Answer:
`

// Template represents a prompt template with variables
type Template struct {
	Name     string
	Content  string
	template *template.Template
}

// NewTemplate parses a named template.
func NewTemplate(name, content string) (*Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Template{Name: name, Content: content, template: tmpl}, nil
}

// Render executes the template against data.
func (t *Template) Render(data any) (string, error) {
	var buf strings.Builder
	if err := t.template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.Name, err)
	}
	return buf.String(), nil
}

// CitationData feeds the citation-bound template.
type CitationData struct {
	Question     string
	Sources      []string
	NotAvailable string
}

// CitationBound is the default strict answer prompt.
var CitationBound = mustTemplate("citation_bound", citationBoundText)

func mustTemplate(name, content string) *Template {
	t, err := NewTemplate(name, content)
	if err != nil {
		panic(err)
	}
	return t
}

// SourceLine formats one retrieved chunk as "[REGULATOR source_ref] text".
func SourceLine(regulator, sourceRef, text string) string {
	return fmt.Sprintf("[%s %s] %s", regulator, sourceRef, strings.TrimSpace(text))
}

// RenderCitationBound renders the default template for a question and its
// formatted source lines.
func RenderCitationBound(question string, sources []string) (string, error) {
	return CitationBound.Render(CitationData{
		Question:     question,
		Sources:      sources,
		NotAvailable: NotAvailable,
	})
}
