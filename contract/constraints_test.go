package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/types"
)

func TestParseConstraintsPrice(t *testing.T) {
	for _, input := range []string{"under 500", "below $500", "less than 500", "max 500", "maximum $500"} {
		out := parseConstraints(input)
		require.Len(t, out, 1, "input %q", input)
		assert.Equal(t, types.Constraint{Type: "price", Operator: "<=", Value: 500.0}, out[0])
	}
}

func TestParseConstraintsPriceRange(t *testing.T) {
	out := parseConstraints("over 200 but under 500")
	require.Len(t, out, 2)
	assert.Equal(t, types.Constraint{Type: "price", Operator: "<=", Value: 500.0}, out[0])
	assert.Equal(t, types.Constraint{Type: "price", Operator: ">=", Value: 200.0}, out[1])
}

func TestParseConstraintsBrand(t *testing.T) {
	out := parseConstraints("brand bosch")
	require.Len(t, out, 1)
	assert.Equal(t, types.Constraint{Type: "brand", Operator: "==", Value: "bosch"}, out[0])

	out = parseConstraints("I'd prefer manufacturer Miele, nothing else")
	require.NotEmpty(t, out)
	assert.Equal(t, "brand", out[0].Type)
	assert.Equal(t, "Miele", out[0].Value)
}

func TestParseConstraintsGeneralFallback(t *testing.T) {
	out := parseConstraints("something quiet for a small flat")
	require.Len(t, out, 1)
	assert.Equal(t, types.Constraint{Type: "general", Operator: "contains", Value: "something quiet for a small flat"}, out[0])
}

func TestParseConstraintsEmpty(t *testing.T) {
	assert.Nil(t, parseConstraints("   "))
}

func TestConstraintQueryTerms(t *testing.T) {
	terms := constraintQueryTerms([]types.Constraint{
		{Type: "price", Operator: "<=", Value: 500.0},
		{Type: "brand", Operator: "==", Value: "bosch"},
		{Type: "price", Operator: ">=", Value: 100.0},
	})
	assert.Equal(t, "under 500 bosch", terms)
}
