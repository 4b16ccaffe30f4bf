package contract

import (
	"context"
	"strings"
	"time"

	"github.com/MercatoLabs/dealkit/assist"
	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/metrics"
	"github.com/MercatoLabs/dealkit/pipeline"
	"github.com/MercatoLabs/dealkit/resilience"
	"github.com/MercatoLabs/dealkit/types"
)

// maxChainedHandlers bounds run-to-completion within one user turn. Hitting
// the bound means a routing bug; the contract fails rather than loops.
const maxChainedHandlers = 16

// ProductSearcher runs the product search pipeline. Satisfied by
// pipeline.ProductSearch.
type ProductSearcher interface {
	Run(ctx context.Context, sessionID, query string, constraints []types.Constraint) pipeline.SearchResult
}

// PreferenceMatcher runs the preference match pipeline. Satisfied by
// pipeline.PreferenceMatch.
type PreferenceMatcher interface {
	Run(ctx context.Context, sessionID string, items []types.Product, prefs types.Preferences, constraints []types.Constraint) pipeline.PreferenceResult
}

// ContextSaver persists the session context after state-changing turns.
type ContextSaver interface {
	SaveSessionContext(ctx context.Context, sc *SessionContext, pipelineMetadata map[string]any) error
}

// ArtifactSink receives the completed-contract audit artifact.
type ArtifactSink interface {
	WriteContract(ctx context.Context, sc *SessionContext) error
}

// Deps are the machine's injected collaborators. Search, Match and Helper
// are required; the rest are optional.
type Deps struct {
	Search    ProductSearcher
	Match     PreferenceMatcher
	Helper    *assist.Helper
	Monitor   *resilience.HealthMonitor
	Saver     ContextSaver
	Artifacts ArtifactSink
	Now       func() time.Time
}

// Machine drives one session through the purchase contract.
type Machine struct {
	sc       *SessionContext
	contract *Contract
	deps     Deps
	handlers map[State]handlerFunc
}

type handlerFunc func(ctx context.Context, input string) StateTransition

// NewMachine creates a machine with a fresh context in the start state.
func NewMachine(sessionID string, tpl *Template, deps Deps) *Machine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Machine{
		sc:       NewSessionContext(sessionID, tpl.ContractType, deps.Now().UTC()),
		contract: NewContract(tpl),
		deps:     deps,
	}
	m.bindHandlers()
	return m
}

// NewMachineFromTemplateFile loads the template from disk. On load failure
// the returned machine is already in the error sink with a failed contract,
// and the template_load_failure error is returned alongside it.
func NewMachineFromTemplateFile(sessionID, path string, deps Deps) (*Machine, error) {
	tpl, err := LoadTemplate(path)
	if err != nil {
		m := NewMachine(sessionID, DefaultTemplate(), deps)
		m.sc.ContractTemplateRef = path
		m.sc.CurrentState = StateError
		m.sc.ContractStatus = ContractError
		m.sc.StepLog = append(m.sc.StepLog, string(StateStart)+" -> "+string(StateError))
		return m, err
	}
	m := NewMachine(sessionID, tpl, deps)
	m.sc.ContractTemplateRef = path
	return m, nil
}

// Restore adopts a reconstructed context, e.g. after the resident machine
// was evicted but a stored projection survived.
func (m *Machine) Restore(sc *SessionContext) {
	m.sc = sc
}

// Context returns the session context. Callers must treat it as read-only.
func (m *Machine) Context() *SessionContext { return m.sc }

// State returns the current workflow state.
func (m *Machine) State() State { return m.sc.CurrentState }

// Terminal reports whether the contract has ended.
func (m *Machine) Terminal() bool { return m.sc.CurrentState.Terminal() }

// degradedNotice is appended once per turn while the system runs below
// full operation mode.
const degradedNotice = "Some advanced features are temporarily unavailable, but I can still help you find products."

// Next advances the machine with one user input and returns the reply for
// the turn. The input feeds the current state's handler; follow-on handlers
// in the same turn run without input until a user-input barrier or terminal
// state. Handlers never raise; failures surface as failed transitions.
func (m *Machine) Next(ctx context.Context, input string) string {
	if m.Terminal() {
		return ""
	}

	var parts []string
	changed := false
	for steps := 0; ; steps++ {
		if steps >= maxChainedHandlers {
			t := m.failedTransition(resilience.InvalidState(string(m.sc.CurrentState)))
			m.apply(&t)
			m.finish(ctx, StatusFailed)
			changed = true
			parts = appendPart(parts, t.UserMessage)
			break
		}

		handler, ok := m.handlers[m.sc.CurrentState]
		if !ok {
			t := m.failedTransition(resilience.InvalidState(string(m.sc.CurrentState)))
			m.apply(&t)
			m.finish(ctx, StatusFailed)
			changed = true
			parts = appendPart(parts, t.UserMessage)
			break
		}

		t := handler(ctx, input)
		input = ""

		from := m.sc.CurrentState
		m.apply(&t)
		if m.sc.CurrentState != from {
			changed = true
		}

		parts = appendPart(parts, t.UserMessage)
		parts = appendPart(parts, t.AskUser)

		if t.terminal() {
			m.finish(ctx, t.Status)
			changed = true
			break
		}
		if t.barrier() {
			break
		}
	}

	if changed && m.deps.Saver != nil {
		meta := map[string]any{"operation_mode": string(m.mode())}
		if err := m.deps.Saver.SaveSessionContext(ctx, m.sc, meta); err != nil {
			logger.Warn("session context save failed",
				"session_id", m.sc.SessionID, "error", err)
		}
	}

	if m.deps.Monitor != nil && m.deps.Monitor.Mode() != resilience.ModeFull {
		parts = appendPart(parts, degradedNotice)
	}
	return strings.Join(parts, "\n\n")
}

// apply is the sole mutation site for the session context: it writes the
// handler's update set, appends tools and the step log, and moves the state.
func (m *Machine) apply(t *StateTransition) {
	from := m.sc.CurrentState
	to := from
	if t.NextState != "" {
		to = t.NextState
	}

	m.applyContextUpdates(t.ContextUpdates)
	for id, status := range t.SubtaskUpdates {
		m.contract.SetSubtaskStatus(id, status)
	}
	m.sc.ToolsUsed = append(m.sc.ToolsUsed, t.ToolsUsed...)
	for _, pr := range t.PipelineRecords {
		m.sc.RecordPipelineExecution(pr.Pipeline, pr.Record, pr.Raw)
	}

	m.sc.CurrentState = to
	m.sc.StepLog = append(m.sc.StepLog, string(from)+" -> "+string(to))
	m.sc.UpdatedAt = m.deps.Now().UTC()

	metrics.RecordContractTransition(string(from), string(to), t.Status)
	logger.StateChange(m.sc.SessionID, string(from), string(to), t.Status)
}

// applyContextUpdates writes a handler's partial update set. Constraints
// accumulate, preferences merge, and a selected product is immutable once
// set.
func (m *Machine) applyContextUpdates(updates map[string]any) {
	for key, value := range updates {
		switch key {
		case "product_query":
			if v, ok := value.(string); ok {
				m.sc.ProductQuery = v
			}
		case "enhanced_query":
			if v, ok := value.(string); ok {
				m.sc.EnhancedQuery = v
			}
		case "search_results":
			if v, ok := value.([]types.Product); ok {
				m.sc.SearchResults = v
			}
		case "extracted_attributes":
			if v, ok := value.([]string); ok {
				m.sc.ExtractedAttributes = v
			}
		case "preferences":
			if v, ok := value.(types.Preferences); ok {
				if m.sc.Preferences == nil {
					m.sc.Preferences = types.Preferences{}
				}
				for name, pref := range v {
					m.sc.Preferences[name] = pref
				}
			}
		case "constraints":
			if v, ok := value.([]types.Constraint); ok {
				m.sc.Constraints = append(m.sc.Constraints, v...)
			}
		case "refinement_attempts":
			if v, ok := value.(int); ok {
				m.sc.RefinementAttempts = v
			}
		case "top_products":
			if v, ok := value.([]types.Product); ok {
				m.sc.TopProducts = v
			}
		case "product_recommendations":
			if v, ok := value.(*assist.Recommendation); ok {
				m.sc.Recommendations = v
			}
		case "selected_product":
			if v, ok := value.(*types.Product); ok && m.sc.SelectedProduct == nil {
				m.sc.SelectedProduct = v
			}
		case "confirmation_pending":
			if v, ok := value.(bool); ok {
				m.sc.ConfirmationPending = v
			}
		case "contract_status":
			if v, ok := value.(string); ok {
				m.sc.ContractStatus = v
			}
		default:
			logger.Warn("ignoring unknown context update",
				"session_id", m.sc.SessionID, "key", key)
		}
	}
}

// finish settles the contract status for a terminal transition and emits
// the completion artifact.
func (m *Machine) finish(ctx context.Context, status string) {
	switch status {
	case StatusCompleted:
		m.sc.ContractStatus = ContractCompleted
	case StatusCancelled:
		m.sc.ContractStatus = ContractCancelled
	case StatusFailed:
		if m.sc.ContractStatus == ContractActive {
			m.sc.ContractStatus = ContractFailed
		}
	}
	m.sc.ConfirmationPending = false

	if status == StatusCompleted && m.deps.Artifacts != nil {
		if err := m.deps.Artifacts.WriteContract(ctx, m.sc); err != nil {
			logger.Warn("contract artifact write failed",
				"session_id", m.sc.SessionID, "error", err)
		}
	}
}

func (m *Machine) failedTransition(err *resilience.Error) StateTransition {
	return StateTransition{
		NextState:    StateFailed,
		Status:       StatusFailed,
		UserMessage:  err.UserMessage(),
		ErrorMessage: err.Error(),
		ContextUpdates: map[string]any{
			"contract_status": ContractFailed,
		},
	}
}

func (m *Machine) mode() resilience.OperationMode {
	if m.deps.Monitor == nil {
		return resilience.ModeFull
	}
	return m.deps.Monitor.Mode()
}

func appendPart(parts []string, s string) []string {
	if s == "" {
		return parts
	}
	return append(parts, s)
}

// runPipeline wraps a pipeline invocation with timing and produces the
// execution record the machine stores on apply.
func runPipeline[T any](name string, now func() time.Time, fn func() T, summarize func(T) (string, map[string]any)) (T, PipelineRecord) {
	start := now()
	result := fn()
	elapsed := now().Sub(start).Seconds()

	status, summary := summarize(result)
	return result, PipelineRecord{
		Pipeline: name,
		Record: ExecutionRecord{
			Status:        status,
			ExecutionTime: elapsed,
			ResultSummary: summary,
			Timestamp:     now().UTC(),
		},
		Raw: result,
	}
}

// PipelineRecord carries one pipeline execution from a handler to apply.
type PipelineRecord struct {
	Pipeline string
	Record   ExecutionRecord
	Raw      any
}
