// Package resilience implements the degradation layer for the contract
// engine: a per-service health monitor, a circuit breaker for external
// store clients, and the error taxonomy that drives fallback selection.
package resilience

import "fmt"

// Kind classifies an engine error for fallback routing.
type Kind string

// Error kinds.
const (
	KindServiceUnavailable Kind = "service_unavailable"
	KindLLMFailure         Kind = "llm_failure"
	KindPipelineComponent  Kind = "pipeline_component_failure"
	KindInvalidState       Kind = "invalid_state"
	KindTemplateLoad       Kind = "template_load_failure"
)

// Severity ranks how much an error disrupts a turn.
type Severity int

// Severity levels.
const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a classified engine error. The FSM maps kinds to user-visible
// messages and the handlers branch on FallbackAvailable.
type Error struct {
	Kind              Kind
	Severity          Severity
	Service           string
	FallbackAvailable bool
	Err               error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Severity, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Severity)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ServiceUnavailable wraps a downstream timeout or connection error.
func ServiceUnavailable(service string, err error) *Error {
	return &Error{
		Kind:              KindServiceUnavailable,
		Severity:          SeverityMedium,
		Service:           service,
		FallbackAvailable: true,
		Err:               err,
	}
}

// LLMFailure wraps a generation or parse error from the LLM provider.
func LLMFailure(err error) *Error {
	return &Error{
		Kind:              KindLLMFailure,
		Severity:          SeverityMedium,
		Service:           "llm",
		FallbackAvailable: true,
		Err:               err,
	}
}

// PipelineFailure wraps a pipeline component error.
func PipelineFailure(component string, err error) *Error {
	return &Error{
		Kind:              KindPipelineComponent,
		Severity:          SeverityMedium,
		Service:           component,
		FallbackAvailable: true,
		Err:               err,
	}
}

// InvalidState reports that the FSM reached an unknown state.
func InvalidState(state string) *Error {
	return &Error{
		Kind:     KindInvalidState,
		Severity: SeverityHigh,
		Err:      fmt.Errorf("unknown contract state %q", state),
	}
}

// TemplateLoadFailure reports a fatal contract template error.
func TemplateLoadFailure(err error) *Error {
	return &Error{
		Kind:     KindTemplateLoad,
		Severity: SeverityCritical,
		Err:      err,
	}
}

// UserMessage returns the sentence shown to the user for this error kind.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindServiceUnavailable:
		return "Some advanced features are temporarily unavailable. I'll continue with basic functionality."
	case KindLLMFailure:
		return "I had trouble understanding that. Could you rephrase?"
	case KindPipelineComponent:
		return "I ran into a problem while searching. Please try again."
	case KindInvalidState:
		return "There was an error processing your request."
	case KindTemplateLoad:
		return "There was an error processing your request."
	default:
		return "There was an error processing your request."
	}
}
