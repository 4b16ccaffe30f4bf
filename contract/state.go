// Package contract implements the per-session purchase workflow: a state
// machine driven by a declarative contract template. Handlers are pure with
// respect to the session context; the machine applies their transitions,
// appends the step log, and tail-calls the next handler until a user-input
// barrier or terminal state is reached.
package contract

// State identifies one node of the purchase workflow.
type State string

// Workflow states. PresentOptions and ConfirmSelection double as the
// rank_and_select / confirm_purchase stages of older stored contexts.
const (
	StateStart              State = "start"
	StateSearch             State = "search"
	StateRefineConstraints  State = "refine_constraints"
	StateAskClarification   State = "ask_clarification"
	StateWaitForPreferences State = "wait_for_preferences"
	StateFilterProducts     State = "filter_products"
	StateCheckCompatibility State = "check_compatibility"
	StateMatchPreferences   State = "match_preferences"
	StatePresentOptions     State = "present_options"
	StateConfirmSelection   State = "confirm_selection"
	StateConfirmOrder       State = "confirm_order"
	StateCompleted          State = "completed"
	StateCancelled          State = "cancelled"
	StateFailed             State = "failed"
	StateError              State = "error"
)

// stateAliases maps names emitted by older context serializations onto the
// canonical state set. Aliases are accepted on load, never emitted.
var stateAliases = map[string]State{
	"rank_and_select":  StatePresentOptions,
	"confirm_purchase": StateConfirmSelection,
}

// ParseState resolves a serialized state name, accepting legacy aliases.
func ParseState(name string) (State, bool) {
	if s, ok := stateAliases[name]; ok {
		return s, true
	}
	s := State(name)
	switch s {
	case StateStart, StateSearch, StateRefineConstraints, StateAskClarification,
		StateWaitForPreferences, StateFilterProducts, StateCheckCompatibility,
		StateMatchPreferences, StatePresentOptions, StateConfirmSelection,
		StateConfirmOrder, StateCompleted, StateCancelled, StateFailed, StateError:
		return s, true
	}
	return "", false
}

// Terminal reports whether the state ends the contract.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed, StateError:
		return true
	}
	return false
}
