// Package agents implements the four pipeline stages (retrieval, citation,
// summarization, risk assessment) and the AgentResult contract they share.
package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
)

// Agent names recorded in results and in the audit trail.
const (
	NameRetrieval      = "retrieval"
	NameCitation       = "citation"
	NameSummarization  = "summarization"
	NameRiskAssessment = "risk_assessment"
)

// Citation is either a plain source identifier or a structured chunk
// citation. Exactly one of Ref and Chunk is meaningful; Chunk wins when set.
type Citation struct {
	Ref   string
	Chunk *document.RetrievedChunk
}

// RefCitation builds a plain citation.
func RefCitation(ref string) Citation {
	return Citation{Ref: ref}
}

// ChunkCitation builds a structured citation from a retrieved chunk.
func ChunkCitation(c document.RetrievedChunk) Citation {
	return Citation{Chunk: &c}
}

// Structured reports whether the citation carries chunk metadata.
func (c Citation) Structured() bool {
	return c.Chunk != nil
}

// SourceReference returns the cited section, article or paragraph label.
func (c Citation) SourceReference() string {
	if c.Chunk != nil {
		return c.Chunk.SourceReference
	}
	return c.Ref
}

// MarshalJSON encodes plain citations as strings and structured ones as
// objects.
func (c Citation) MarshalJSON() ([]byte, error) {
	if c.Chunk != nil {
		return json.Marshal(c.Chunk)
	}
	return json.Marshal(c.Ref)
}

// UnmarshalJSON detects the shape of each element.
func (c *Citation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty citation")
	}
	switch data[0] {
	case '"':
		var ref string
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*c = Citation{Ref: ref}
	case '{':
		var chunk document.RetrievedChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return err
		}
		*c = Citation{Chunk: &chunk}
	default:
		return fmt.Errorf("citation must be a string or an object, got %s", data)
	}
	return nil
}

// AgentResult is the output every pipeline stage produces.
type AgentResult struct {
	AgentName  string     `json:"agent_name"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Warnings   []string   `json:"warnings"`
}

// Validate enforces the result contract. It never mutates r, so repeated
// calls on a valid result keep succeeding.
func Validate(r *AgentResult) error {
	if r == nil {
		return fmt.Errorf("%w: result is nil", errorskg.ErrContractViolation)
	}
	if strings.TrimSpace(r.AgentName) == "" {
		return fmt.Errorf("%w: agent_name is empty", errorskg.ErrContractViolation)
	}
	if r.Citations == nil {
		return fmt.Errorf("%w: %s result has no citations sequence", errorskg.ErrContractViolation, r.AgentName)
	}
	if r.Warnings == nil {
		return fmt.Errorf("%w: %s result has no warnings sequence", errorskg.ErrContractViolation, r.AgentName)
	}
	if math.IsNaN(r.Confidence) || math.IsInf(r.Confidence, 0) {
		return fmt.Errorf("%w: %s confidence is not a finite number", errorskg.ErrContractViolation, r.AgentName)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: %s confidence %v outside [0, 1]", errorskg.ErrContractViolation, r.AgentName, r.Confidence)
	}
	return nil
}

// newResult is the only way agents build results: sequences are always
// present and the contract is checked before the value escapes.
func newResult(name, answer string, citations []Citation, confidence float64, warnings []string) (*AgentResult, error) {
	r := &AgentResult{
		AgentName:  name,
		Answer:     answer,
		Citations:  append([]Citation{}, citations...),
		Confidence: confidence,
		Warnings:   append([]string{}, warnings...),
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Clone returns a deep copy so a consumer can never alter the producer's
// value.
func (r *AgentResult) Clone() *AgentResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Citations = make([]Citation, len(r.Citations))
	for i, c := range r.Citations {
		if c.Chunk != nil {
			chunk := *c.Chunk
			c.Chunk = &chunk
		}
		out.Citations[i] = c
	}
	out.Warnings = append([]string{}, r.Warnings...)
	return &out
}

// SourceReferences returns the cited source labels in citation order,
// skipping blanks.
func (r *AgentResult) SourceReferences() []string {
	refs := make([]string, 0, len(r.Citations))
	for _, c := range r.Citations {
		if ref := c.SourceReference(); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Decode parses an AgentResult that crossed a process boundary. The raw
// document is checked against the JSON schema before decoding.
func Decode(raw []byte) (*AgentResult, error) {
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	var r AgentResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", errorskg.ErrContractViolation, err)
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
