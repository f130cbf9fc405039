// Package mcp exposes the orchestrator to MCP clients as a single tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/orchestrator"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
)

// ToolName is the name under which the query tool is registered.
const ToolName = "regulatory_query"

// Runner answers one regulatory query. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, query, modelVersion string) (*orchestrator.Response, error)
}

// QueryArgs are the tool arguments.
type QueryArgs struct {
	Query        string `json:"query" jsonschema:"the regulatory question to answer"`
	ModelVersion string `json:"model_version,omitempty" jsonschema:"model version recorded in the audit trail"`
}

// Option customises the server.
type Option func(*config)

type config struct {
	name    string
	version string
	logger  *slog.Logger
}

// WithImplementation overrides the advertised server name and version.
func WithImplementation(name, version string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
		if version != "" {
			c.version = version
		}
	}
}

// WithLogger overrides the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer builds an MCP server exposing runner as the regulatory_query tool.
// defaultModelVersion is used when a call does not name one.
func NewServer(runner Runner, defaultModelVersion string, opts ...Option) *sdkmcp.Server {
	cfg := &config{
		name:    "regulatory-rag",
		version: "v1.0.0",
		logger:  logging.WithComponent("mcp"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    cfg.name,
		Version: cfg.version,
		Title:   "Regulatory RAG",
	}, nil)

	h := &handler{runner: runner, modelVersion: defaultModelVersion, logger: cfg.logger}
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name: ToolName,
		Description: "Answer a question over the CSSF, DORA and EBA corpora. " +
			"Returns the cited answer, summary, risk assessment, fused confidence and audit trail as JSON.",
	}, h.query)
	return server
}

// Serve runs server over stdio until ctx is done or the client disconnects.
func Serve(ctx context.Context, server *sdkmcp.Server) error {
	if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil {
		return fmt.Errorf("serve mcp: %w", err)
	}
	return nil
}

// NewHTTPHandler serves server over the streamable HTTP transport at path.
func NewHTTPHandler(server *sdkmcp.Server, path string) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(r *http.Request) *sdkmcp.Server {
		if path == "" || r.URL.Path == path {
			return server
		}
		return nil
	}, nil)
}

// toolResponse is the JSON payload of a successful call.
type toolResponse struct {
	*orchestrator.Response
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings"`
}

type handler struct {
	runner       Runner
	modelVersion string
	logger       *slog.Logger
}

func (h *handler) query(ctx context.Context, _ *sdkmcp.CallToolRequest, args QueryArgs) (*sdkmcp.CallToolResult, any, error) {
	version := strings.TrimSpace(args.ModelVersion)
	if version == "" {
		version = h.modelVersion
	}

	resp, err := h.runner.Run(ctx, args.Query, version)
	if err != nil {
		h.logger.Warn("tool call failed",
			"query", logging.Trim(args.Query, 120),
			"stage", errorskg.StageOf(err),
			"error", err,
		)
		return errorResult(err), nil, nil
	}

	payload, err := json.MarshalIndent(toolResponse{
		Response: resp,
		Degraded: resp.Degraded(),
		Warnings: resp.Warnings(),
	}, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode response: %w", err)
	}
	h.logger.Info("tool call completed",
		"run_id", resp.AuditTrail.RunID,
		"confidence", resp.Confidence,
		"degraded", resp.Degraded(),
	)
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(payload)}},
	}, nil, nil
}

// errorResult reports a run that produced no answer.
func errorResult(err error) *sdkmcp.CallToolResult {
	text := err.Error()
	if stage := errorskg.StageOf(err); stage != "" {
		text = fmt.Sprintf("no answer produced: %s", text)
	}
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}
