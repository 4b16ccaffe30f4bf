package contract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/resilience"
)

func TestDefaultTemplate(t *testing.T) {
	tpl := DefaultTemplate()
	assert.Equal(t, "purchase_item", tpl.ContractType)
	assert.Equal(t, "1.0", tpl.Version)
	assert.Equal(t, 10, tpl.ProductThreshold())

	ids := make([]string, 0, len(tpl.Subtasks))
	for _, st := range tpl.Subtasks {
		ids = append(ids, st.ID)
		assert.Equal(t, SubtaskPending, st.Status)
	}
	assert.Contains(t, ids, "confirm_order")
}

func TestLoadTemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
contract_type: purchase_item
version: "2.1"
description: test
parameters:
  product_threshold: 25
subtasks:
  - id: one
  - id: two
`), 0o644))

	tpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "2.1", tpl.Version)
	assert.Equal(t, 25, tpl.ProductThreshold())
	assert.Len(t, tpl.Subtasks, 2)
}

func TestLoadTemplateMissingFile(t *testing.T) {
	_, err := LoadTemplate("/nonexistent/contract.yaml")
	require.Error(t, err)

	var rerr *resilience.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, resilience.KindTemplateLoad, rerr.Kind)
}

func TestParseTemplateValidation(t *testing.T) {
	cases := map[string]string{
		"missing contract_type": "version: \"1.0\"\nparameters: {}\nsubtasks: [{id: a}]",
		"missing version":       "contract_type: x\nparameters: {}\nsubtasks: [{id: a}]",
		"missing subtasks":      "contract_type: x\nversion: \"1.0\"\nparameters: {}",
		"duplicate subtask":     "contract_type: x\nversion: \"1.0\"\nparameters: {}\nsubtasks: [{id: a}, {id: a}]",
		"invalid yaml":          "contract_type: [unclosed",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseTemplate([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestProductThresholdDefaults(t *testing.T) {
	tpl := &Template{Parameters: map[string]any{}}
	assert.Equal(t, DefaultProductThreshold, tpl.ProductThreshold())

	tpl.Parameters["product_threshold"] = "lots"
	assert.Equal(t, DefaultProductThreshold, tpl.ProductThreshold())

	tpl.Parameters["product_threshold"] = float64(15)
	assert.Equal(t, 15, tpl.ProductThreshold())
}

func TestContractSubtaskStatus(t *testing.T) {
	c := NewContract(DefaultTemplate())
	c.SetSubtaskStatus("confirm_order", SubtaskCompleted)
	assert.Equal(t, SubtaskCompleted, c.SubtaskStatus("confirm_order"))
	assert.Equal(t, SubtaskPending, c.SubtaskStatus("product_search"))
	assert.Empty(t, c.SubtaskStatus("unknown"))

	// The template's own subtasks stay untouched.
	tpl := DefaultTemplate()
	assert.Equal(t, SubtaskPending, NewContract(tpl).SubtaskStatus("confirm_order"))
}
