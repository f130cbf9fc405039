package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reHTMLTag  = regexp.MustCompile(`(?i)</?(p|div|span|br|li|ul|ol|table|tr|td|th|h[1-6])\b[^>]*>`)
)

// footerPatterns are page furniture lines left behind by EUR-Lex and CSSF exports.
var footerPatterns = []string{
	"Official Journal of the European Union",
	"ELI: http",
	"Commission de Surveillance du Secteur Financier",
}

// CleanBasic removes control characters, fixes ligatures and collapses whitespace.
// Dashes are kept: summarization relies on them to detect bullet artifacts.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}

	b := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	b = strings.NewReplacer("ﬁ", "fi", "ﬂ", "fl", " ", " ").Replace(b)
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")

	return strings.TrimSpace(b)
}

// HTMLToText keeps headings, paragraphs, list items and tables of an HTML fragment.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	var out []string
	doc.Find("h1,h2,h3,h4,p,li,table").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		switch goquery.NodeName(s) {
		case "li":
			out = append(out, "- "+text)
		case "table":
			out = append(out, parseTable(s))
		default:
			out = append(out, text)
		}
	})
	if len(out) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(out, "\n\n"), nil
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(j int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// RemoveDuplicateParagraphs dedupes by exact paragraph text.
func RemoveDuplicateParagraphs(text string) string {
	parts := strings.Split(text, "\n\n")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, "\n\n")
}

// RemovePageFurniture drops running headers and footers.
func RemovePageFurniture(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		skip := false
		for _, p := range footerPatterns {
			if strings.Contains(l, p) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Clean runs the full chunk text pipeline. HTML fragments are flattened first;
// if the fragment cannot be parsed the raw text is cleaned as-is.
func Clean(raw string) string {
	t := raw
	if reHTMLTag.MatchString(t) {
		if flat, err := HTMLToText(t); err == nil {
			t = flat
		}
	}
	t = CleanBasic(t)
	t = RemovePageFurniture(t)
	t = RemoveDuplicateParagraphs(t)
	return t
}
