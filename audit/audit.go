package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

// Status summarises how a run ended.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Record is one orchestrator run as persisted by a Recorder. Response holds
// the JSON-encoded orchestration response and is empty for failed runs.
type Record struct {
	RunID        string          `json:"run_id"`
	Query        string          `json:"query"`
	ModelVersion string          `json:"model_version"`
	Status       Status          `json:"status"`
	Confidence   float64         `json:"confidence"`
	Stage        string          `json:"stage,omitempty"`
	Error        string          `json:"error,omitempty"`
	States       []string        `json:"states"`
	Response     json.RawMessage `json:"response,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: audit record is nil", errorskg.ErrInvalidInput)
	}
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("%w: audit record run id is empty", errorskg.ErrInvalidInput)
	}
	switch r.Status {
	case StatusOK, StatusDegraded, StatusFailed:
	default:
		return fmt.Errorf("%w: unknown audit status %q", errorskg.ErrInvalidInput, r.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.States = append([]string(nil), r.States...)
	if r.Response != nil {
		out.Response = append(json.RawMessage(nil), r.Response...)
	}
	return &out
}

// Recorder persists run records. Records are keyed by RunID; recording the
// same RunID twice replaces the earlier record.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
	Get(ctx context.Context, runID string) (*Record, error)
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Record, error)
	Count(ctx context.Context) (int, error)
}

// MemoryRecorder keeps records in process memory.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: make(map[string]*Record), now: time.Now}
}

// Record stores a copy of rec, stamping CreatedAt when unset.
func (m *MemoryRecorder) Record(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	stored := rec.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[stored.RunID] = stored
	return nil
}

// Get returns a copy of the record for runID.
func (m *MemoryRecorder) Get(ctx context.Context, runID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[runID]
	if !ok {
		return nil, fmt.Errorf("audit record %s: %w", runID, errorskg.ErrNotFound)
	}
	return rec.Clone(), nil
}

// List returns copies ordered by CreatedAt descending, then RunID.
func (m *MemoryRecorder) List(ctx context.Context, limit int) ([]*Record, error) {
	m.mu.RLock()
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored records.
func (m *MemoryRecorder) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}
