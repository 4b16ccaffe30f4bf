package contract

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MercatoLabs/dealkit/resilience"
)

// DefaultProductThreshold bounds how many products flow into preference
// matching before an LLM pre-filter kicks in.
const DefaultProductThreshold = 10

// Subtask statuses.
const (
	SubtaskPending   = "pending"
	SubtaskActive    = "active"
	SubtaskCompleted = "completed"
	SubtaskSkipped   = "skipped"
)

// Subtask is one recorded step of a contract.
type Subtask struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Status      string `yaml:"status,omitempty" json:"status"`
}

// Template is the declarative contract definition consumed at machine
// construction.
type Template struct {
	ContractType string         `yaml:"contract_type" json:"contract_type"`
	Version      string         `yaml:"version" json:"version"`
	Description  string         `yaml:"description" json:"description"`
	Parameters   map[string]any `yaml:"parameters" json:"parameters"`
	Subtasks     []Subtask      `yaml:"subtasks" json:"subtasks"`
}

//go:embed templates/purchase_item.yaml
var purchaseItemTemplate []byte

// LoadTemplate reads and validates a contract template from disk. Failures
// carry the template_load_failure kind: the machine constructor routes them
// to the error sink state.
func LoadTemplate(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, resilience.TemplateLoadFailure(fmt.Errorf("read %s: %w", path, err))
	}
	return parseTemplate(raw)
}

// DefaultTemplate returns the embedded purchase_item contract.
func DefaultTemplate() *Template {
	tpl, err := parseTemplate(purchaseItemTemplate)
	if err != nil {
		panic(err) // embedded template is validated by tests
	}
	return tpl
}

func parseTemplate(raw []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(raw, &tpl); err != nil {
		return nil, resilience.TemplateLoadFailure(fmt.Errorf("parse template: %w", err))
	}
	if err := tpl.validate(); err != nil {
		return nil, resilience.TemplateLoadFailure(err)
	}
	for i := range tpl.Subtasks {
		if tpl.Subtasks[i].Status == "" {
			tpl.Subtasks[i].Status = SubtaskPending
		}
	}
	return &tpl, nil
}

func (t *Template) validate() error {
	if t.ContractType == "" {
		return fmt.Errorf("template missing contract_type")
	}
	if t.Version == "" {
		return fmt.Errorf("template %s missing version", t.ContractType)
	}
	if t.Parameters == nil {
		return fmt.Errorf("template %s missing parameters", t.ContractType)
	}
	if len(t.Subtasks) == 0 {
		return fmt.Errorf("template %s missing subtasks", t.ContractType)
	}
	seen := make(map[string]bool, len(t.Subtasks))
	for _, st := range t.Subtasks {
		if st.ID == "" {
			return fmt.Errorf("template %s has a subtask without id", t.ContractType)
		}
		if seen[st.ID] {
			return fmt.Errorf("template %s has duplicate subtask %s", t.ContractType, st.ID)
		}
		seen[st.ID] = true
	}
	return nil
}

// ProductThreshold returns the product_threshold parameter, defaulting when
// absent or malformed.
func (t *Template) ProductThreshold() int {
	switch v := t.Parameters["product_threshold"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return DefaultProductThreshold
}

// Contract is the live, per-session instantiation of a template: the
// subtasks become mutable progress records.
type Contract struct {
	Template *Template `json:"template"`
	Subtasks []Subtask `json:"subtasks"`
}

// NewContract instantiates a template for one session.
func NewContract(tpl *Template) *Contract {
	subtasks := make([]Subtask, len(tpl.Subtasks))
	copy(subtasks, tpl.Subtasks)
	return &Contract{Template: tpl, Subtasks: subtasks}
}

// SetSubtaskStatus updates one subtask's status; unknown ids are ignored.
func (c *Contract) SetSubtaskStatus(id, status string) {
	for i := range c.Subtasks {
		if c.Subtasks[i].ID == id {
			c.Subtasks[i].Status = status
			return
		}
	}
}

// SubtaskStatus returns the status of a subtask, or empty when unknown.
func (c *Contract) SubtaskStatus(id string) string {
	for i := range c.Subtasks {
		if c.Subtasks[i].ID == id {
			return c.Subtasks[i].Status
		}
	}
	return ""
}
