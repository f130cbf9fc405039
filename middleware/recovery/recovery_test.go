package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sweetpotato0/regulatory-rag/agents"
	"github.com/sweetpotato0/regulatory-rag/middleware"
)

func TestRecovererConvertsPanic(t *testing.T) {
	ctx := middleware.NewContext(context.Background(), "summarization", "q", "run")
	err := New(nil).Execute(ctx, func(c *middleware.Context) error {
		c.Result = &agents.AgentResult{AgentName: "summarization"}
		panic("index out of range")
	})
	if !errors.Is(err, middleware.ErrStagePanic) {
		t.Fatalf("expected ErrStagePanic, got %v", err)
	}
	if ctx.Result != nil {
		t.Fatal("partial result must be cleared after a panic")
	}
}

func TestRecovererMapsErrors(t *testing.T) {
	boom := errors.New("boom")
	var seenStage string
	handler := func(stage string, err error) error {
		seenStage = stage
		return fmt.Errorf("mapped: %w", err)
	}
	ctx := middleware.NewContext(context.Background(), "citation", "q", "run")
	err := New(handler).Execute(ctx, func(*middleware.Context) error { return boom })
	if !errors.Is(err, boom) || err.Error() != "mapped: boom" {
		t.Fatalf("unexpected error %v", err)
	}
	if seenStage != "citation" {
		t.Fatalf("handler saw stage %q", seenStage)
	}
}

func TestRecovererPassesSuccess(t *testing.T) {
	called := false
	handler := func(string, error) error { called = true; return nil }
	ctx := middleware.NewContext(context.Background(), "retrieval", "q", "run")
	if err := New(handler).Execute(ctx, func(*middleware.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if called {
		t.Fatal("handler must only see errors")
	}
}
