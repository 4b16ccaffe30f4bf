package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/types"
)

func sampleContext(t *testing.T) *SessionContext {
	t.Helper()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	sc := NewSessionContext("sess-42", "purchase_item", now)
	sc.ProductQuery = "washing machine"
	sc.EnhancedQuery = "washing machine 8 kg"
	sc.SearchResults = []types.Product{
		{Name: "SpinMaster 8000", Price: 499.99, Rating: 4.4},
		{Name: "EcoWash Prime", Price: "629 EUR", Rating: "4.8"},
	}
	sc.ExtractedAttributes = []string{"price", "capacity"}
	sc.Preferences = types.Preferences{"capacity": "large"}
	sc.Constraints = []types.Constraint{{Type: "price", Operator: "<=", Value: 700.0}}
	sc.StepLog = []string{"start -> search", "search -> present_options"}
	sc.CurrentState = StatePresentOptions
	sc.RecordPipelineExecution("product_search", ExecutionRecord{
		Status:        "success",
		ExecutionTime: 0.42,
		ResultSummary: map[string]any{"items_count": 2},
		Timestamp:     now,
	}, map[string]any{"status": "success"})
	return sc
}

func TestContextMapRoundTrip(t *testing.T) {
	sc := sampleContext(t)

	first, err := sc.ToMap()
	require.NoError(t, err)

	restored, err := ContextFromMap(first)
	require.NoError(t, err)
	second, err := restored.ToMap()
	require.NoError(t, err)

	assert.Equal(t, first, second, "round trip must be observationally stable")
	assert.Equal(t, sc.SessionID, restored.SessionID)
	assert.Equal(t, StatePresentOptions, restored.CurrentState)
	assert.Equal(t, sc.StepLog, restored.StepLog)
	assert.Len(t, restored.PipelineExecutions["product_search"], 1)
}

func TestContextFromMapNormalizesLegacyStates(t *testing.T) {
	sc := sampleContext(t)
	m, err := sc.ToMap()
	require.NoError(t, err)
	m["current_state"] = "confirm_purchase"

	restored, err := ContextFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmSelection, restored.CurrentState)
}

func TestContextFromMapConvertsLegacyPreferenceList(t *testing.T) {
	sc := sampleContext(t)
	m, err := sc.ToMap()
	require.NoError(t, err)
	m["preferences"] = []any{"capacity", "energy efficiency"}

	restored, err := ContextFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, types.Preferences{
		"capacity":          "preferred",
		"energy efficiency": "preferred",
	}, restored.Preferences)
}

func TestContextFromMapRejectsUnknownState(t *testing.T) {
	sc := sampleContext(t)
	m, err := sc.ToMap()
	require.NoError(t, err)
	m["current_state"] = "negotiating_with_aliens"

	_, err = ContextFromMap(m)
	assert.Error(t, err)
}

func TestRecordPipelineExecutionAverages(t *testing.T) {
	sc := NewSessionContext("sess-1", "purchase_item", time.Now().UTC())

	sc.RecordPipelineExecution("preference_match", ExecutionRecord{Status: "success", ExecutionTime: 0.2}, nil)
	sc.RecordPipelineExecution("preference_match", ExecutionRecord{Status: "success", ExecutionTime: 0.4}, "latest")

	assert.Len(t, sc.PipelineExecutions["preference_match"], 2)
	assert.InDelta(t, 0.3, sc.PipelinePerformanceMetrics["preference_match_avg_time"], 1e-9)
	assert.Equal(t, "latest", sc.LastPipelineResults["preference_match"])
}
