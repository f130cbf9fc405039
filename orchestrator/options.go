package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/regulatory-rag/agents"
	"github.com/sweetpotato0/regulatory-rag/audit"
	"github.com/sweetpotato0/regulatory-rag/middleware"
	"github.com/sweetpotato0/regulatory-rag/middleware/logger"
	"github.com/sweetpotato0/regulatory-rag/middleware/recovery"
	"github.com/sweetpotato0/regulatory-rag/middleware/tracing"
)

// Config controls a single Orchestrator.
type Config struct {
	SummaryMode agents.Mode
	Timeout     time.Duration // zero means no run deadline
	Middleware  []middleware.Middleware
	Recorder    audit.Recorder
	Now         func() time.Time
	NewID       func() string
}

func defaultConfig() *Config {
	return &Config{
		SummaryMode: agents.ModeExecutive,
		Middleware: []middleware.Middleware{
			recovery.New(nil),
			tracing.New(nil),
			logger.New(nil),
		},
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// Option customises the orchestrator.
type Option func(*Config)

// WithSummaryMode selects the summarization mode used for every run.
func WithSummaryMode(mode agents.Mode) Option {
	return func(cfg *Config) {
		cfg.SummaryMode = mode
	}
}

// WithStageMiddleware appends middlewares wrapping every stage, after the
// default recovery, tracing and logging middlewares.
func WithStageMiddleware(mw ...middleware.Middleware) Option {
	return func(cfg *Config) {
		for _, m := range mw {
			if m != nil {
				cfg.Middleware = append(cfg.Middleware, m)
			}
		}
	}
}

// WithRecorder persists every run, successful or not.
func WithRecorder(r audit.Recorder) Option {
	return func(cfg *Config) {
		cfg.Recorder = r
	}
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *Config) {
		if now != nil {
			cfg.Now = now
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(cfg *Config) {
		if fn != nil {
			cfg.NewID = fn
		}
	}
}

// WithTimeout bounds every run with a deadline.
func WithTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.Timeout = d
		}
	}
}
