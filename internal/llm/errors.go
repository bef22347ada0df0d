package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass groups collaborator failures for logging and retry decisions.
type ErrorClass string

const (
	ErrorClassAuth            ErrorClass = "AUTH"
	ErrorClassRateLimit       ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout         ErrorClass = "TIMEOUT"
	ErrorClassBilling         ErrorClass = "BILLING"
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"
	ErrorClassUnknown         ErrorClass = "UNKNOWN"
)

// classMarkers is checked in order; the first class with a marker found in
// the lowercased error text wins.
var classMarkers = []struct {
	class   ErrorClass
	markers []string
}{
	{ErrorClassAuth, []string{"401", "403", "unauthorized", "forbidden", "invalid key", "invalid api key", "permission denied"}},
	{ErrorClassRateLimit, []string{"429", "rate limit", "rate_limit", "quota", "too many requests", "resource_exhausted"}},
	{ErrorClassTimeout, []string{"deadline exceeded", "timeout", "timed out"}},
	{ErrorClassBilling, []string{"billing", "payment", "insufficient funds", "credit balance"}},
	{ErrorClassContextOverflow, []string{"context_length", "context length", "token limit", "maximum context", "context window"}},
}

// ClassifyError maps a search or LLM error to a class from its text. Both
// collaborators report HTTP failures with the status code in the message.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, cm := range classMarkers {
		for _, m := range cm.markers {
			if strings.Contains(msg, m) {
				return cm.class
			}
		}
	}
	return ErrorClassUnknown
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) {
		return true
	}
	switch ClassifyError(err) {
	case ErrorClassAuth, ErrorClassBilling, ErrorClassContextOverflow:
		return true
	}
	return false
}
