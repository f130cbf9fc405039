package middleware

import "errors"

var (
	// ErrRateLimitExceeded indicates the stage could not acquire a rate token
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStagePanic indicates a stage panicked and was recovered
	ErrStagePanic = errors.New("stage panicked")
)
