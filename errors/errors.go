package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrEmptyQuery is returned when a run is started without query text
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrNoRelevantChunks means retrieval found nothing across every collection
	ErrNoRelevantChunks = errors.New("retrieval agent returned no relevant chunks")

	// ErrNoCitations means the citation stage produced no result or no citations
	ErrNoCitations = errors.New("citation agent failed or returned no citations")

	// ErrUnsupportedMode is returned for summarization modes other than executive/audit
	ErrUnsupportedMode = errors.New("unsupported summarization mode")

	// ErrContractViolation marks an AgentResult that fails schema validation
	ErrContractViolation = errors.New("agent result contract violation")
)

// Kind classifies a stage failure.
type Kind string

const (
	// KindFatal is a fail-fast gate failure: the run is aborted with no answer.
	KindFatal Kind = "fatal"
	// KindContract is an integration error: a stage produced a malformed AgentResult.
	KindContract Kind = "contract"
)

// StageError reports which pipeline stage aborted a run and why.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

// NewStageError wraps err for the given stage, deriving the kind from the cause.
func NewStageError(stage string, err error) *StageError {
	kind := KindFatal
	if errors.Is(err, ErrContractViolation) {
		kind = KindContract
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err aborted a run before an answer was produced.
// Contract violations are fatal as well.
func IsFatal(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// IsContractViolation reports whether err originates from AgentResult validation.
func IsContractViolation(err error) bool {
	var se *StageError
	if errors.As(err, &se) && se.Kind == KindContract {
		return true
	}
	return errors.Is(err, ErrContractViolation)
}

// StageOf returns the failing stage name, or "" when err is not a stage error.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
