package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Chunk is a citation-addressable span of a regulatory document as produced by
// the document parsers (CSSF sections, DORA articles, EBA paragraphs).
type Chunk struct {
	ID              string         `json:"chunk_id"`
	DocumentID      string         `json:"document_id,omitempty"`
	DocumentTitle   string         `json:"document_title,omitempty"`
	Authority       string         `json:"authority,omitempty"`
	Jurisdiction    string         `json:"jurisdiction,omitempty"`
	BindingLevel    string         `json:"binding_level,omitempty"`
	SectionID       Label          `json:"section_id,omitempty"`
	ArticleNumber   Label          `json:"article_number,omitempty"`
	ParagraphNumber Label          `json:"paragraph_number,omitempty"`
	Title           string         `json:"title,omitempty"`
	Text            string         `json:"text"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// SourceReference returns the section, article or paragraph label, in that order.
func (c Chunk) SourceReference() string {
	for _, l := range []Label{c.SectionID, c.ArticleNumber, c.ParagraphNumber} {
		if s := strings.TrimSpace(string(l)); s != "" {
			return s
		}
	}
	return ""
}

// Clone returns a deep copy of the chunk.
func (c Chunk) Clone() Chunk {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// RetrievedChunk is a chunk reference returned by the retrieval collaborator.
// Owned by the retrieval stage, read-only for every consumer downstream.
type RetrievedChunk struct {
	ChunkID          string  `json:"chunk_id"`
	SourceReference  string  `json:"source_reference"`
	SourceRegulation string  `json:"source_regulation,omitempty"`
	SimilarityScore  float64 `json:"similarity_score"`
}

// Label holds a source label that parsers emit either as a string or a number
// (EBA paragraph numbers are integers).
type Label string

// UnmarshalJSON accepts strings, numbers and null.
func (l *Label) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Label(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("label must be string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*l = Label(strconv.FormatInt(i, 10))
		return nil
	}
	*l = Label(n.String())
	return nil
}
