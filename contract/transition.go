package contract

// Transition statuses. Continue lets the machine tail-call the next
// handler; WaitingForInput is a user-input barrier; the rest are terminal.
const (
	StatusContinue        = "continue"
	StatusWaitingForInput = "waiting_for_input"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
	StatusFailed          = "failed"
)

// StateTransition is the sole output of a state handler. Handlers never
// mutate the session context directly; the machine applies ContextUpdates,
// appends ToolsUsed, records the step, and routes on NextState and Status.
type StateTransition struct {
	// NextState empty means stay in the current state.
	NextState State

	// UserMessage is informational text for the user. AskUser additionally
	// signals a user-input barrier: the machine stops tail-calling and
	// returns the combined text as the turn's reply.
	UserMessage string
	AskUser     string

	Status string

	// ContextUpdates is a partial write-set applied to the session context.
	// Keys follow the context's serialized field names.
	ContextUpdates map[string]any

	// SubtaskUpdates maps subtask id to new status on the contract.
	SubtaskUpdates map[string]string

	// ToolsUsed is appended to the context's tool log.
	ToolsUsed []string

	// PipelineRecords carries pipeline executions for the machine to
	// record on the context.
	PipelineRecords []PipelineRecord

	ErrorMessage string
}

// barrier reports whether the transition must stop the tail-call chain.
func (t *StateTransition) barrier() bool {
	return t.AskUser != "" || t.Status == StatusWaitingForInput
}

// terminal reports whether the transition ends the contract.
func (t *StateTransition) terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// stay returns a waiting-for-input transition that keeps the current state.
func stay(ask string) StateTransition {
	return StateTransition{Status: StatusWaitingForInput, AskUser: ask}
}

// goTo returns a continue transition into the given state.
func goTo(next State) StateTransition {
	return StateTransition{NextState: next, Status: StatusContinue}
}

// cancelled returns the terminal cancellation transition with the standard
// user-facing sentence.
func cancelled() StateTransition {
	return StateTransition{
		NextState:   StateCancelled,
		Status:      StatusCancelled,
		UserMessage: cancelMessage,
		ContextUpdates: map[string]any{
			"contract_status": ContractCancelled,
		},
	}
}
