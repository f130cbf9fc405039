package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sweetpotato0/regulatory-rag/agents"
	"github.com/sweetpotato0/regulatory-rag/audit"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/graph"
	"github.com/sweetpotato0/regulatory-rag/middleware"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
	"github.com/sweetpotato0/regulatory-rag/pkg/telemetry"
	"golang.org/x/sync/errgroup"
)

// riskWarningFactor scales the fused confidence when risk raised warnings.
const riskWarningFactor = 0.8

// Orchestrator runs retrieval, citation, the concurrent summary and risk
// pair, and fusion for one query at a time. It holds no per-run state and
// is safe for concurrent use.
type Orchestrator struct {
	cfg    *Config
	agents Agents
	chain  *middleware.MiddlewareChain
	logger *slog.Logger
}

// runState is threaded through the stage graph.
type runState struct {
	query      string
	runID      string
	retrieval  *agents.RetrievalOutput
	citation   *agents.CitationOutput
	summary    *agents.AgentResult
	risk       *agents.AgentResult
	confidence float64
}

// New validates the stages and options.
func New(stages Agents, opts ...Option) (*Orchestrator, error) {
	if stages.Retrieval == nil || stages.Citation == nil || stages.Summary == nil || stages.Risk == nil {
		return nil, fmt.Errorf("%w: all four agent stages are required", errorskg.ErrInvalidInput)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if _, err := cfg.SummaryMode.Segments(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:    cfg,
		agents: stages,
		chain:  middleware.NewChain(cfg.Middleware...),
		logger: logging.WithComponent("orchestrator"),
	}
	o.logger.Info("orchestrator initialised",
		"summary_mode", string(cfg.SummaryMode),
		"timeout", cfg.Timeout.String(),
		"middleware", o.chain.Names(),
		"recorder", cfg.Recorder != nil,
	)
	return o, nil
}

// Fuse combines the citation and risk confidences: the minimum of the two,
// scaled by 0.8 when risk raised warnings, rounded to 3 decimals.
func Fuse(citationConfidence, riskConfidence float64, riskWarnings bool) float64 {
	fused := math.Min(citationConfidence, riskConfidence)
	if riskWarnings {
		fused *= riskWarningFactor
	}
	return math.Round(fused*1000) / 1000
}

// Run executes the pipeline for query. A gate failure or contract violation
// returns a *errors.StageError and no response; degraded outcomes are
// reported through the response's confidence and warnings.
func (o *Orchestrator) Run(ctx context.Context, query, modelVersion string) (*Response, error) {
	started := o.cfg.Now().UTC()
	runID := o.cfg.NewID()
	input := strings.TrimSpace(query)

	trail := AuditTrail{
		RunID:        runID,
		Query:        query,
		ModelVersion: modelVersion,
		Agents:       append([]string(nil), AgentOrder...),
		Timestamp:    started.Format(time.RFC3339Nano),
	}

	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.run")
	span.SetAttributes(
		telemetry.KeyRunID.String(runID),
		telemetry.KeyModelVersion.String(modelVersion),
	)
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	log := o.logger.With("run_id", runID)
	log.Info("orchestrator run started", "query", logging.Trim(input, 120), "model_version", modelVersion)

	if input == "" {
		err := errorskg.NewStageError(agents.NameRetrieval, errorskg.ErrEmptyQuery)
		o.finish(ctx, log, trail, started, nil, err)
		telemetry.End(span, err)
		return nil, err
	}

	var reached []State
	g := o.stageGraph(func(_ context.Context, tr graph.Transition) {
		reached = append(reached, State(tr.To))
	})
	state, err := g.Execute(ctx, &runState{query: input, runID: runID})
	trail.States = reached
	if err != nil {
		o.finish(ctx, log, trail, started, nil, err)
		telemetry.End(span, err)
		return nil, err
	}

	resp := &Response{
		Answer:     state.citation.Result,
		Summary:    state.summary,
		Risk:       state.risk,
		Confidence: state.confidence,
		AuditTrail: trail.clone(),
	}
	span.SetAttributes(
		telemetry.KeyConfidence.Float64(resp.Confidence),
		telemetry.KeyDegraded.Bool(resp.Degraded()),
	)
	o.finish(ctx, log, trail, started, resp, nil)
	telemetry.End(span, nil)
	return resp, nil
}

// stageGraph builds the state machine for one run. Each node name is the
// state entered once its stage has passed its gate; onState sees every
// state reached.
func (o *Orchestrator) stageGraph(onState graph.TransitionFunc) *graph.Graph[*runState] {
	return graph.NewBuilder[*runState]().
		AddNode(string(StateInit), graph.NodeTypeStart, nil).
		AddNode(string(StateRetrieved), graph.NodeTypeStage, o.retrieveNode).
		AddNode(string(StateCited), graph.NodeTypeStage, o.citeNode).
		AddNode(string(StateAnalysed), graph.NodeTypeStage, o.analyseNode).
		AddNode(string(StateFused), graph.NodeTypeStage, o.fuseNode).
		AddNode(string(StateDone), graph.NodeTypeEnd, nil).
		AddEdge(string(StateInit), string(StateRetrieved)).
		AddEdge(string(StateRetrieved), string(StateCited)).
		AddEdge(string(StateCited), string(StateAnalysed)).
		AddEdge(string(StateAnalysed), string(StateFused)).
		AddEdge(string(StateFused), string(StateDone)).
		WithClock(o.cfg.Now).
		OnTransition(onState).
		Build()
}

func (o *Orchestrator) retrieveNode(ctx context.Context, st *runState) (*runState, error) {
	var out *agents.RetrievalOutput
	_, err := o.invoke(ctx, agents.NameRetrieval, st, func(ctx context.Context) (*agents.AgentResult, error) {
		res, err := o.agents.Retrieval.RetrieveAll(ctx, st.query)
		if err != nil {
			return nil, err
		}
		if res == nil || res.Result == nil || len(res.Chunks) == 0 {
			return nil, errorskg.ErrNoRelevantChunks
		}
		out = res
		return res.Result, nil
	})
	if err != nil {
		return st, err
	}
	st.retrieval = out
	return st, nil
}

func (o *Orchestrator) citeNode(ctx context.Context, st *runState) (*runState, error) {
	var out *agents.CitationOutput
	_, err := o.invoke(ctx, agents.NameCitation, st, func(ctx context.Context) (*agents.AgentResult, error) {
		res, err := o.agents.Citation.Answer(ctx, st.query, st.retrieval)
		if err != nil {
			if errors.Is(err, errorskg.ErrContractViolation) || ctx.Err() != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", errorskg.ErrNoCitations, err)
		}
		if res == nil || res.Result == nil || len(res.Result.Citations) == 0 {
			return nil, errorskg.ErrNoCitations
		}
		out = res
		return res.Result, nil
	})
	if err != nil {
		return st, err
	}
	st.citation = out
	return st, nil
}

// analyseNode runs summarization and risk assessment concurrently. Each
// branch gets its own copy of the citation result; the first failure
// cancels the other branch.
func (o *Orchestrator) analyseNode(ctx context.Context, st *runState) (*runState, error) {
	source := st.citation.Result
	var summary, risk *agents.AgentResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := o.invoke(gctx, agents.NameSummarization, st, func(ctx context.Context) (*agents.AgentResult, error) {
			return o.agents.Summary.Summarize(ctx, source.Clone(), o.cfg.SummaryMode)
		})
		summary = res
		return err
	})
	g.Go(func() error {
		res, err := o.invoke(gctx, agents.NameRiskAssessment, st, func(ctx context.Context) (*agents.AgentResult, error) {
			return o.agents.Risk.Assess(ctx, source.Clone(), st.retrieval)
		})
		risk = res
		return err
	})
	if err := g.Wait(); err != nil {
		return st, err
	}

	st.summary = summary
	st.risk = risk
	return st, nil
}

func (o *Orchestrator) fuseNode(_ context.Context, st *runState) (*runState, error) {
	st.confidence = Fuse(st.citation.Result.Confidence, st.risk.Confidence, len(st.risk.Warnings) > 0)
	return st, nil
}

// invoke runs one stage through the middleware chain and validates its
// result. Every failure is returned as a *errors.StageError.
func (o *Orchestrator) invoke(ctx context.Context, stage string, st *runState, call func(context.Context) (*agents.AgentResult, error)) (*agents.AgentResult, error) {
	mctx := middleware.NewContext(ctx, stage, st.query, st.runID)
	err := o.chain.Execute(mctx, func(c *middleware.Context) error {
		res, err := call(c.Context())
		if err != nil {
			return err
		}
		if err := agents.Validate(res); err != nil {
			return err
		}
		c.Result = res
		return nil
	})
	if err != nil {
		return nil, errorskg.NewStageError(stage, err)
	}
	if err := agents.Validate(mctx.Result); err != nil {
		return nil, errorskg.NewStageError(stage, err)
	}
	return mctx.Result, nil
}

// finish logs the outcome and hands it to the recorder. Recorder failures
// never change the run outcome.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, trail AuditTrail, started time.Time, resp *Response, runErr error) {
	rec := &audit.Record{
		RunID:        trail.RunID,
		Query:        trail.Query,
		ModelVersion: trail.ModelVersion,
		States:       make([]string, len(trail.States)),
		StartedAt:    started,
		CreatedAt:    o.cfg.Now().UTC(),
	}
	for i, s := range trail.States {
		rec.States[i] = string(s)
	}

	switch {
	case runErr != nil:
		rec.Status = audit.StatusFailed
		rec.Stage = errorskg.StageOf(runErr)
		rec.Error = runErr.Error()
		log.Error("orchestrator run failed",
			"stage", rec.Stage,
			"contract_violation", errorskg.IsContractViolation(runErr),
			"error", runErr,
		)
	case resp.Degraded():
		rec.Status = audit.StatusDegraded
		rec.Confidence = resp.Confidence
		log.Warn("orchestrator run degraded", "confidence", resp.Confidence, "warnings", resp.Warnings())
	default:
		rec.Status = audit.StatusOK
		rec.Confidence = resp.Confidence
		log.Info("orchestrator run completed", "confidence", resp.Confidence)
	}

	if o.cfg.Recorder == nil {
		return
	}
	if resp != nil {
		payload, err := json.Marshal(resp)
		if err != nil {
			log.Error("encode audit response failed", "error", err)
		} else {
			rec.Response = payload
		}
	}
	if err := o.cfg.Recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("audit record failed", "error", err)
	}
}
