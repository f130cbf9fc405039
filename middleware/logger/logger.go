package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/regulatory-rag/middleware"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
)

// StageLogger logs stage start and completion through slog.
type StageLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a stage logging middleware. A nil logger uses the shared
// "stage" component logger.
func New(logger *slog.Logger) *StageLogger {
	if logger == nil {
		logger = logging.WithComponent("stage")
	}
	return &StageLogger{logger: logger, now: time.Now}
}

// Name returns the middleware name
func (m *StageLogger) Name() string {
	return "StageLogger"
}

// Execute logs around the stage. Failures log at error level, results with
// warnings at warn level.
func (m *StageLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	log := m.logger.With("stage", ctx.Stage, "run_id", ctx.RunID)
	log.Debug("stage started", "query", logging.Trim(ctx.Query, 120))

	start := m.now()
	err := next(ctx)
	elapsed := m.now().Sub(start)

	if err != nil {
		log.Error("stage failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return err
	}

	res := ctx.Result
	if res == nil {
		log.Info("stage completed", "duration_ms", elapsed.Milliseconds())
		return nil
	}
	attrs := []any{
		"duration_ms", elapsed.Milliseconds(),
		"confidence", res.Confidence,
		"citations", len(res.Citations),
		"warnings", len(res.Warnings),
	}
	if len(res.Warnings) > 0 {
		log.Warn("stage completed with warnings", append(attrs, "warning_list", res.Warnings)...)
		return nil
	}
	log.Info("stage completed", attrs...)
	return nil
}
