// Package llm defines the language model boundary used by answer
// generation. Providers live under contrib/provider.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
	"golang.org/x/time/rate"
)

// Request is a single-turn completion request.
type Request struct {
	System string
	Prompt string
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the provider reply.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Client generates text completions.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ClientFunc) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Validate checks the request before it reaches a provider.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("generate request cannot be nil")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("generate request prompt cannot be empty")
	}
	return nil
}

// Limited throttles a client to a steady request rate.
type Limited struct {
	client  Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewLimited wraps client so that at most perMinute requests start per
// minute, with a burst of one. A non-positive rate returns client unchanged.
func NewLimited(client Client, perMinute int) Client {
	if perMinute <= 0 {
		return client
	}
	return &Limited{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		logger:  logging.WithComponent("llm_limiter"),
	}
}

func (l *Limited) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		l.logger.Warn("rate limit wait aborted", "error", err)
		return nil, fmt.Errorf("llm rate limit: %w", err)
	}
	return l.client.Generate(ctx, req)
}
