// Package apperr defines the error types the HTTP layer knows how to render.
// The default for an unrecognized error at handler level is 500.
package apperr

import "fmt"

type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

func New(message string, statusCode int) *ErrorWithStatusCode {
	return &ErrorWithStatusCode{Message: message, StatusCode: statusCode}
}

// DatabaseUnavailable is returned when the liveness probe fails before any
// LLM call is made.
type DatabaseUnavailable struct {
	Cause error
}

func (e *DatabaseUnavailable) Error() string {
	return "database unavailable"
}

func (e *DatabaseUnavailable) Unwrap() error { return e.Cause }

// LLMFailure wraps an error from a chat-completion call. Stage is "plan",
// "replan" or "summarize".
type LLMFailure struct {
	Stage string
	Cause error
}

func (e *LLMFailure) Error() string {
	return fmt.Sprintf("llm failure at %s: %v", e.Stage, e.Cause)
}

func (e *LLMFailure) Unwrap() error { return e.Cause }

// RetryExhausted is returned when the single planner retry also failed at
// execution time.
type RetryExhausted struct {
	Message string
	SQL     string
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("retry exhausted: %s", e.Message)
}
