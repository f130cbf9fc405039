package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/sweetpotato0/regulatory-rag/middleware"
	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
)

// ErrorHandlerFunc maps a stage error to the error returned by the chain.
type ErrorHandlerFunc func(stage string, err error) error

// Recoverer converts stage panics into errors and optionally maps errors.
type Recoverer struct {
	handler ErrorHandlerFunc
	logger  *slog.Logger
}

// New creates a recovering middleware. handler may be nil.
func New(handler ErrorHandlerFunc) *Recoverer {
	return &Recoverer{handler: handler, logger: logging.WithComponent("recovery")}
}

// Name returns the middleware name
func (m *Recoverer) Name() string {
	return "Recoverer"
}

// Execute runs the rest of the chain, recovering panics as ErrStagePanic.
func (m *Recoverer) Execute(ctx *middleware.Context, next middleware.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("stage panic recovered",
				"stage", ctx.Stage,
				"run_id", ctx.RunID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %s: %v", middleware.ErrStagePanic, ctx.Stage, r)
			ctx.Result = nil
		}
		if err != nil && m.handler != nil {
			err = m.handler(ctx.Stage, err)
		}
	}()
	return next(ctx)
}
