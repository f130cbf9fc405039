package document

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads a JSON array of chunks persisted by the document parsers.
// Chunks without an identifier or text are rejected: they cannot be cited.
func LoadFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk file %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses a JSON array of chunks.
func Decode(data []byte) ([]Chunk, error) {
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("chunk %d has no chunk_id", i)
		}
		if strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("chunk %s has no text", c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chunk_id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return chunks, nil
}
