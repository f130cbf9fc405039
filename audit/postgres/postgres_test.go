package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/regulatory-rag/audit"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

func TestNewRejectsBadTable(t *testing.T) {
	_, err := New(context.Background(), &Config{DSN: "postgres://localhost/none", Table: "runs; DROP TABLE x"})
	require.ErrorIs(t, err, errorskg.ErrInvalidInput)
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=regulatory_rag sslmode=disable", cfg.dsn())
	cfg.DSN = "postgres://u:p@db/x"
	assert.Equal(t, "postgres://u:p@db/x", cfg.dsn())
}

// Requires a running PostgreSQL; set REGRAG_POSTGRES_DSN to enable.
func TestRecorder(t *testing.T) {
	dsn := os.Getenv("REGRAG_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REGRAG_POSTGRES_DSN not set, skipping PostgreSQL audit tests")
	}
	ctx := context.Background()
	rec, err := New(ctx, &Config{DSN: dsn, Table: "audit_runs_test"})
	if err != nil {
		t.Skipf("Failed to connect to PostgreSQL: %v", err)
	}
	defer rec.Close()
	require.NoError(t, rec.Clear(ctx))

	started := time.Now().UTC().Truncate(time.Millisecond)
	in := &audit.Record{
		RunID:        "run-pg-1",
		Query:        "ICT third-party risk",
		ModelVersion: "v1",
		Status:       audit.StatusOK,
		Confidence:   0.9,
		States:       []string{"INIT", "RETRIEVED", "CITED", "ANALYSED", "FUSED", "DONE"},
		Response:     json.RawMessage(`{"confidence": 0.9}`),
		StartedAt:    started,
	}
	require.NoError(t, rec.Record(ctx, in))

	got, err := rec.Get(ctx, "run-pg-1")
	require.NoError(t, err)
	assert.Equal(t, in.States, got.States)
	assert.JSONEq(t, `{"confidence":0.9}`, string(got.Response))
	assert.True(t, got.StartedAt.Equal(started))

	require.NoError(t, rec.Record(ctx, &audit.Record{RunID: "run-pg-2", Status: audit.StatusFailed, Stage: "retrieval", Error: "no chunks", StartedAt: started}))
	list, err := rec.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := rec.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = rec.Get(ctx, "missing")
	assert.ErrorIs(t, err, errorskg.ErrNotFound)
}
