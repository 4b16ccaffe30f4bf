package types

// Constraint is a hard filter extracted from user input. Items failing a
// constraint are removed before ranking; soft preferences only affect
// ranking scores.
type Constraint struct {
	Type     string `json:"type"`     // price, brand, capacity, general, ...
	Operator string `json:"operator"` // <=, >=, ==, contains
	Value    any    `json:"value"`
}

// Preferences maps attribute names to user-expressed soft preference values.
type Preferences map[string]string
