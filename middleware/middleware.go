package middleware

import (
	"context"

	"github.com/sweetpotato0/regulatory-rag/agents"
)

// Context is the per-stage invocation context shared by a middleware chain.
type Context struct {
	// Stage is the agent name of the stage being invoked
	Stage string

	// Query is the user question of the run
	Query string

	// RunID identifies the orchestrator run
	RunID string

	// Result is set by the stage handler once the agent returns
	Result *agents.AgentResult

	// Error from execution
	Error error

	// Metadata for passing data between middlewares
	Metadata map[string]any

	context context.Context
}

// NewContext creates a stage context.
func NewContext(ctx context.Context, stage, query, runID string) *Context {
	return &Context{
		Stage:    stage,
		Query:    query,
		RunID:    runID,
		Metadata: make(map[string]any),
		context:  ctx,
	}
}

// Context returns the underlying context.Context
func (c *Context) Context() context.Context {
	if c.context == nil {
		return context.Background()
	}
	return c.context
}

// WithContext replaces the underlying context.Context, e.g. to carry a span.
func (c *Context) WithContext(ctx context.Context) {
	c.context = ctx
}

// Middleware wraps a single stage invocation. Returning an error stops the
// chain and fails the stage.
type Middleware interface {
	// Name returns the name of the middleware for logging and debugging
	Name() string

	// Execute runs the middleware logic and calls next to continue the chain
	Execute(ctx *Context, next Handler) error
}

// Handler is the function called to pass control to the next middleware
type Handler func(*Context) error

// Func adapts a function to the Middleware interface.
type Func struct {
	Label string
	Fn    func(*Context, Handler) error
}

// Name returns the middleware name
func (f Func) Name() string { return f.Label }

// Execute calls Fn.
func (f Func) Execute(ctx *Context, next Handler) error { return f.Fn(ctx, next) }

// MiddlewareChain represents a sequence of middleware to be executed
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: append([]Middleware(nil), middlewares...),
	}
}

// Add appends a middleware to the chain
func (c *MiddlewareChain) Add(m Middleware) *MiddlewareChain {
	if m != nil {
		c.middlewares = append(c.middlewares, m)
	}
	return c
}

// Len reports the number of middlewares.
func (c *MiddlewareChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.middlewares)
}

// Names lists middleware names in execution order.
func (c *MiddlewareChain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.middlewares))
	for i, m := range c.middlewares {
		names[i] = m.Name()
	}
	return names
}

// Execute runs all middlewares and then finalHandler. The returned error is
// also stored on ctx.Error.
func (c *MiddlewareChain) Execute(ctx *Context, finalHandler Handler) error {
	var err error
	if c == nil {
		err = finalHandler(ctx)
	} else {
		err = c.executeMiddleware(ctx, 0, finalHandler)
	}
	ctx.Error = err
	return err
}

func (c *MiddlewareChain) executeMiddleware(ctx *Context, index int, finalHandler Handler) error {
	if index >= len(c.middlewares) {
		return finalHandler(ctx)
	}

	nextHandler := func(ctx *Context) error {
		return c.executeMiddleware(ctx, index+1, finalHandler)
	}

	return c.middlewares[index].Execute(ctx, nextHandler)
}
