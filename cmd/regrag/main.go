// Command regrag answers regulatory questions over the CSSF, DORA and EBA
// corpora, either once from the command line or as an MCP server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sweetpotato0/regulatory-rag/agents"
	"github.com/sweetpotato0/regulatory-rag/audit"
	"github.com/sweetpotato0/regulatory-rag/config"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/mcp"
	"github.com/sweetpotato0/regulatory-rag/orchestrator"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
	"github.com/sweetpotato0/regulatory-rag/pkg/telemetry"
)

// Exit codes.
const (
	exitOK       = 0
	exitFatal    = 1
	exitDegraded = 2
)

type options struct {
	configPath   string
	mode         string
	jsonOutput   bool
	mcpStdio     bool
	mcpHTTP      string
	modelVersion string
	replay       string
	logLevel     string
	query        string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("regrag", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	fs.StringVar(&opts.mode, "mode", "", "Summary mode: executive or audit (overrides the config)")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Print the full response as JSON")
	fs.BoolVar(&opts.mcpStdio, "mcp", false, "Serve the regulatory_query tool over stdio")
	fs.StringVar(&opts.mcpHTTP, "mcp-http", "", "Serve the regulatory_query tool over streamable HTTP on this address")
	fs.StringVar(&opts.modelVersion, "model-version", "", "Model version recorded in the audit trail (overrides the config)")
	fs.StringVar(&opts.replay, "replay", "", "Print the recorded response of this run ID from the audit backend")
	fs.StringVar(&opts.logLevel, "log-level", os.Getenv("REGRAG_LOG_LEVEL"), "Log level: debug, info, warn or error")
	fs.Usage = func() {
		fmt.Fprintln(stderr, `usage: regrag -config cfg.yaml [-mode executive|audit] [-json] "query"`)
		fmt.Fprintln(stderr, `       regrag -config cfg.yaml -mcp | -mcp-http :8080`)
		fmt.Fprintln(stderr, `       regrag -config cfg.yaml -replay RUN_ID [-json]`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.query = strings.TrimSpace(strings.Join(fs.Args(), " "))
	modes := 0
	for _, on := range []bool{opts.mcpStdio, opts.mcpHTTP != "", opts.replay != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return nil, errors.New("-mcp, -mcp-http and -replay are mutually exclusive")
	}
	if modes == 1 && opts.query != "" {
		return nil, errors.New("a query cannot be combined with -mcp, -mcp-http or -replay")
	}
	if modes == 0 && opts.query == "" {
		fs.Usage()
		return nil, errors.New("a query is required")
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "regrag: %v\n", err)
		return exitFatal
	}

	logging.SetLogger(logging.New(stderr, os.Getenv("REGRAG_LOG_FORMAT"), opts.logLevel))
	logger := logging.WithComponent("cli")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "regrag: %v\n", err)
		return exitFatal
	}
	if opts.modelVersion != "" {
		cfg.Model.Version = opts.modelVersion
	}
	modeName := cfg.Summary.Mode
	if opts.mode != "" {
		modeName = opts.mode
	}
	mode, err := agents.ParseMode(modeName)
	if err != nil {
		fmt.Fprintf(stderr, "regrag: %v\n", err)
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.replay != "" {
		return replay(ctx, cfg, opts.replay, opts.jsonOutput, stdout, stderr)
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Disable:     cfg.Telemetry.Disable,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "regrag: init telemetry: %v\n", err)
		return exitFatal
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := build(ctx, cfg, mode, logger)
	if err != nil {
		fmt.Fprintf(stderr, "regrag: %v\n", err)
		return exitFatal
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("release resources failed", "error", err)
		}
	}()

	switch {
	case opts.mcpStdio:
		return serveStdio(ctx, a, cfg, stderr)
	case opts.mcpHTTP != "":
		return serveHTTP(ctx, a, cfg, opts.mcpHTTP, stderr)
	}

	resp, err := a.orchestrator.Run(ctx, opts.query, cfg.Model.Version)
	return report(stdout, stderr, resp, err, opts.jsonOutput)
}

func serveStdio(ctx context.Context, a *app, cfg *config.Config, stderr io.Writer) int {
	server := mcp.NewServer(a.orchestrator, cfg.Model.Version)
	if err := mcp.Serve(ctx, server); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "regrag: %v\n", err)
		return exitFatal
	}
	return exitOK
}

func serveHTTP(ctx context.Context, a *app, cfg *config.Config, addr string, stderr io.Writer) int {
	server := mcp.NewServer(a.orchestrator, cfg.Model.Version)
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewHTTPHandler(server, "/mcp"))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	a.logger.Info("serving mcp over http", "addr", addr, "path", "/mcp")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(stderr, "regrag: http server stopped: %v\n", err)
		return exitFatal
	}
	return exitOK
}

// replay prints a recorded run without building the pipeline.
func replay(ctx context.Context, cfg *config.Config, runID string, asJSON bool, stdout, stderr io.Writer) int {
	a := &app{logger: logging.WithComponent("cli")}
	defer func() { _ = a.Close() }()

	recorder, err := a.recorder(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "regrag: %v\n", err)
		return exitFatal
	}
	if recorder == nil {
		fmt.Fprintf(stderr, "regrag: audit backend %q keeps no records\n", cfg.Audit.Backend)
		return exitFatal
	}
	rec, err := recorder.Get(ctx, runID)
	if err != nil {
		fmt.Fprintf(stderr, "regrag: load run %s: %v\n", runID, err)
		return exitFatal
	}
	if rec.Status == audit.StatusFailed {
		fmt.Fprintf(stderr, "regrag: run %s produced no answer (%s): %s\n", runID, rec.Stage, rec.Error)
		return exitFatal
	}
	resp, err := orchestrator.DecodeResponse(rec.Response)
	if err != nil {
		fmt.Fprintf(stderr, "regrag: run %s: %v\n", runID, err)
		return exitFatal
	}
	return report(stdout, stderr, resp, nil, asJSON)
}

// report prints the outcome and maps it to an exit code.
func report(stdout, stderr io.Writer, resp *orchestrator.Response, runErr error, asJSON bool) int {
	if runErr != nil {
		stage := errorskg.StageOf(runErr)
		if stage == "" {
			stage = "orchestrator"
		}
		fmt.Fprintf(stderr, "regrag: no answer produced (%s): %v\n", stage, runErr)
		return exitFatal
	}

	code := exitOK
	if resp.Degraded() {
		code = exitDegraded
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fmt.Fprintf(stderr, "regrag: encode response: %v\n", err)
			return exitFatal
		}
		return code
	}

	renderText(stdout, resp)
	return code
}

func renderText(w io.Writer, resp *orchestrator.Response) {
	if resp.Degraded() {
		fmt.Fprintln(w, "!! DEGRADED ANSWER: review the caveats below before relying on it")
		for _, warning := range resp.Warnings() {
			fmt.Fprintf(w, "!!   - %s\n", warning)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Confidence: %.3f\n\n", resp.Confidence)
	if resp.Answer != nil {
		fmt.Fprintln(w, "Answer:")
		fmt.Fprintln(w, resp.Answer.Answer)
		if refs := resp.Answer.SourceReferences(); len(refs) > 0 {
			fmt.Fprintln(w, "\nCitations:")
			for _, ref := range refs {
				fmt.Fprintf(w, "  - %s\n", ref)
			}
		}
	}
	if resp.Summary != nil {
		fmt.Fprintf(w, "\nSummary:\n%s\n", resp.Summary.Answer)
	}
	if resp.Risk != nil {
		fmt.Fprintf(w, "\nRisk (confidence %.3f):\n%s\n", resp.Risk.Confidence, resp.Risk.Answer)
	}
	trail := resp.AuditTrail
	fmt.Fprintf(w, "\nRun %s at %s (model %s)\n", trail.RunID, trail.Timestamp, trail.ModelVersion)
}
