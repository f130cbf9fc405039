package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/regulatory-rag/llm"
)

func TestGenerateSendsSystemAndUserMessages(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-5-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Article 6 applies [DORA Article 6]."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-5-mini"})
	resp, err := p.Generate(context.Background(), &llm.Request{System: "sys", Prompt: "question"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "Article 6 applies [DORA Article 6]." {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if got.Model != "gpt-5-mini" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[1].Content != "question" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	p := New(&Config{APIKey: "test"})
	if _, err := p.Generate(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNewDefaultsModel(t *testing.T) {
	p := New(&Config{APIKey: "k"})
	if p.config.Model != "gpt-5-mini" {
		t.Fatalf("unexpected default model %q", p.config.Model)
	}
}
