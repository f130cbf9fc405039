package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"github.com/sweetpotato0/regulatory-rag/middleware"
)

// DefaultMaxQueryRunes bounds the query length accepted by QueryValidator.
const DefaultMaxQueryRunes = 4000

// QueryValidator rejects blank or oversized queries before a stage runs.
type QueryValidator struct {
	maxRunes int
}

// NewQueryValidator creates the validator. maxRunes <= 0 selects
// DefaultMaxQueryRunes.
func NewQueryValidator(maxRunes int) *QueryValidator {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxQueryRunes
	}
	return &QueryValidator{maxRunes: maxRunes}
}

// Name returns the middleware name
func (m *QueryValidator) Name() string {
	return "QueryValidator"
}

// Execute validates the query
func (m *QueryValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if strings.TrimSpace(ctx.Query) == "" {
		return errorskg.ErrEmptyQuery
	}
	if n := utf8.RuneCountInString(ctx.Query); n > m.maxRunes {
		return fmt.Errorf("%w: query has %d characters, limit is %d", errorskg.ErrInvalidInput, n, m.maxRunes)
	}
	return next(ctx)
}
