package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MercatoLabs/dealkit/assist"
	"github.com/MercatoLabs/dealkit/types"
)

// Contract statuses on the session context.
const (
	ContractActive    = "active"
	ContractCompleted = "completed"
	ContractCancelled = "cancelled"
	ContractFailed    = "failed"
	ContractError     = "error"
)

// ExecutionRecord captures one pipeline invocation on the context.
type ExecutionRecord struct {
	Status        string         `json:"status"`
	ExecutionTime float64        `json:"execution_time"`
	ResultSummary map[string]any `json:"result_summary,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// SessionContext is the per-session root aggregate. It is mutated only by
// the machine's transition application and round-trips through a map
// projection for persistence.
type SessionContext struct {
	SessionID           string `json:"session_id"`
	ContractTemplateRef string `json:"contract_template_ref,omitempty"`
	CurrentState        State  `json:"current_state"`

	StepLog []string `json:"step_log"`

	ProductQuery        string                 `json:"product_query,omitempty"`
	EnhancedQuery       string                 `json:"enhanced_query,omitempty"`
	SearchResults       []types.Product        `json:"search_results,omitempty"`
	ExtractedAttributes []string               `json:"extracted_attributes,omitempty"`
	Preferences         types.Preferences      `json:"preferences,omitempty"`
	Constraints         []types.Constraint     `json:"constraints,omitempty"`
	RefinementAttempts  int                    `json:"refinement_attempts"`
	TopProducts         []types.Product        `json:"top_products,omitempty"`
	Recommendations     *assist.Recommendation `json:"product_recommendations,omitempty"`
	SelectedProduct     *types.Product         `json:"selected_product,omitempty"`

	ContractStatus      string `json:"contract_status"`
	ConfirmationPending bool   `json:"confirmation_pending"`

	ToolsUsed []string `json:"tools_used,omitempty"`

	PipelineExecutions         map[string][]ExecutionRecord `json:"pipeline_executions,omitempty"`
	LastPipelineResults        map[string]any               `json:"last_pipeline_results,omitempty"`
	PipelinePerformanceMetrics map[string]float64           `json:"pipeline_performance_metrics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionContext creates a fresh context in the start state.
func NewSessionContext(sessionID, templateRef string, now time.Time) *SessionContext {
	return &SessionContext{
		SessionID:           sessionID,
		ContractTemplateRef: templateRef,
		CurrentState:        StateStart,
		ContractStatus:      ContractActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// RecordPipelineExecution appends an execution record, stores the raw
// result as the latest for that pipeline, and refreshes the rolling average
// execution time.
func (c *SessionContext) RecordPipelineExecution(pipeline string, rec ExecutionRecord, raw any) {
	if c.PipelineExecutions == nil {
		c.PipelineExecutions = make(map[string][]ExecutionRecord)
	}
	if c.LastPipelineResults == nil {
		c.LastPipelineResults = make(map[string]any)
	}
	if c.PipelinePerformanceMetrics == nil {
		c.PipelinePerformanceMetrics = make(map[string]float64)
	}

	c.PipelineExecutions[pipeline] = append(c.PipelineExecutions[pipeline], rec)
	c.LastPipelineResults[pipeline] = raw

	records := c.PipelineExecutions[pipeline]
	total := 0.0
	for _, r := range records {
		total += r.ExecutionTime
	}
	c.PipelinePerformanceMetrics[pipeline+"_avg_time"] = total / float64(len(records))
}

// ToMap projects the context to a JSON-shaped map for persistence.
func (c *SessionContext) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("serialize context: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("reshape context: %w", err)
	}
	return out, nil
}

// ContextFromMap restores a context from its map projection. Legacy state
// aliases and list-shaped preferences are normalized on the way in; an
// unknown state is rejected.
func ContextFromMap(m map[string]any) (*SessionContext, error) {
	if prefs, ok := m["preferences"].([]any); ok {
		m = normalizeLegacyPreferences(m, prefs)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("reshape context: %w", err)
	}
	var c SessionContext
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("deserialize context: %w", err)
	}
	state, ok := ParseState(string(c.CurrentState))
	if !ok {
		return nil, fmt.Errorf("unknown state %q in stored context", c.CurrentState)
	}
	c.CurrentState = state
	return &c, nil
}

// normalizeLegacyPreferences converts the older list-of-names preference
// shape into the map shape. Accepted on load, never emitted.
func normalizeLegacyPreferences(m map[string]any, prefs []any) map[string]any {
	converted := make(map[string]any, len(prefs))
	for _, p := range prefs {
		if name, ok := p.(string); ok && name != "" {
			converted[name] = "preferred"
		}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	out["preferences"] = converted
	return out
}
