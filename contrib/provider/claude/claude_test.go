package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/regulatory-rag/llm"
)

func TestGenerateConcatenatesTextBlocks(t *testing.T) {
	var got struct {
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
		MaxTokens int64 `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5-20250929",
			"content": [{"type": "text", "text": "Part one. "}, {"type": "text", "text": "Part two."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "test", BaseURL: srv.URL})
	resp, err := p.Generate(context.Background(), &llm.Request{System: "sys", Prompt: "q"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "Part one. Part two." {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Usage.InputTokens != 20 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if len(got.System) != 1 || got.System[0].Text != "sys" {
		t.Fatalf("system prompt not forwarded: %+v", got.System)
	}
	if got.MaxTokens != 2048 {
		t.Fatalf("expected default max tokens, got %d", got.MaxTokens)
	}
}

func TestGenerateRejectsNilRequest(t *testing.T) {
	if _, err := New(nil).Generate(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}
