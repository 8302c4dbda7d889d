package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrJobInProgress        = errors.New("session already has an active job")
	ErrOutcomeNotConfigured = errors.New("no outcome configured")
	ErrOutcomeMisconfigured = errors.New("outcome misconfigured")
)

// ErrorKind classifies execution failures. Every kind is non-retryable:
// generation calls are never re-invoked automatically, to avoid duplicate
// provider cost.
type ErrorKind string

const (
	ErrorKindInvalidInput     ErrorKind = "INVALID_INPUT"
	ErrorKindProcessingFailed ErrorKind = "PROCESSING_FAILED"
	ErrorKindAIModelError     ErrorKind = "AI_MODEL_ERROR"
	ErrorKindStorageError     ErrorKind = "STORAGE_ERROR"
	ErrorKindTimeout          ErrorKind = "TIMEOUT"
	ErrorKindCancelled        ErrorKind = "CANCELLED"
	ErrorKindUnknown          ErrorKind = "UNKNOWN"
)

// EngineError carries a failure kind alongside the underlying cause. The
// cause is for operator logs only; clients see the fixed message for the
// kind via ClientMessage.
type EngineError struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Errf builds an EngineError of the given kind from a formatted cause.
func Errf(kind ErrorKind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapErr attaches a kind to an existing error.
func WrapErr(kind ErrorKind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}

// Classify maps an arbitrary error onto the fixed taxonomy. Typed engine
// errors keep their kind; context errors map to TIMEOUT/CANCELLED; anything
// else is UNKNOWN.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	return ErrorKindUnknown
}

var clientMessages = map[ErrorKind]string{
	ErrorKindInvalidInput:     "The session is missing information required to produce this outcome.",
	ErrorKindProcessingFailed: "We could not process your media. Please try again with a new capture.",
	ErrorKindAIModelError:     "Image generation is temporarily unavailable.",
	ErrorKindStorageError:     "We could not store your media.",
	ErrorKindTimeout:          "Processing took too long and was stopped.",
	ErrorKindCancelled:        "Processing was cancelled.",
	ErrorKindUnknown:          "Something went wrong while processing your media.",
}

// ClientMessage returns the fixed, non-technical message persisted on the
// job for a given kind. Raw error text never reaches clients; prompts,
// storage paths and stack detail stay in operator logs.
func ClientMessage(kind ErrorKind) string {
	if msg, ok := clientMessages[kind]; ok {
		return msg
	}
	return clientMessages[ErrorKindUnknown]
}
