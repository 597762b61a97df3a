package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRule = errors.New("invalid lookup rule")

// Populate names the field(s) a rule writes. A single field is filled with the
// raw looked-up value; a list of fields is filled by decoding the looked-up
// value as a JSON object. A one-element list is still a list.
type Populate struct {
	Fields    []string
	Composite bool
}

// Single returns a Populate that copies the raw value into one field.
func Single(field string) Populate {
	return Populate{Fields: []string{field}}
}

// Composite returns a Populate that decomposes a JSON object into fields.
func Composite(fields ...string) Populate {
	return Populate{Fields: fields, Composite: true}
}

func (p Populate) IsZero() bool {
	return len(p.Fields) == 0
}

func (p Populate) MarshalJSON() ([]byte, error) {
	if !p.Composite && len(p.Fields) == 1 {
		return json.Marshal(p.Fields[0])
	}
	return json.Marshal(p.Fields)
}

func (p *Populate) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = Single(single)
		return nil
	}
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("populate must be a field name or a list of field names: %w", err)
	}
	*p = Composite(fields...)
	return nil
}

func (p Populate) MarshalYAML() (any, error) {
	if !p.Composite && len(p.Fields) == 1 {
		return p.Fields[0], nil
	}
	return p.Fields, nil
}

func (p *Populate) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*p = Single(single)
	case yaml.SequenceNode:
		var fields []string
		if err := node.Decode(&fields); err != nil {
			return err
		}
		*p = Composite(fields...)
	default:
		return fmt.Errorf("line %d: populate must be a field name or a list of field names", node.Line)
	}
	return nil
}

// RuleDefinition is the declaration of one enrichment rule, as written in the
// rules file or stored in the _lookup_rules table.
type RuleDefinition struct {
	At         string            `json:"at,omitempty" yaml:"at,omitempty"`
	Using      string            `json:"using" yaml:"using"`
	Populate   Populate          `json:"populate" yaml:"populate"`
	As         map[string]string `json:"as,omitempty" yaml:"as,omitempty"`
	BucketName string            `json:"bucket_name,omitempty" yaml:"bucket_name,omitempty"`

	// When is an optional boolean expression evaluated against each candidate
	// node (bound as "record"). Nodes for which it is false are not enriched.
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// Rule is a validated, registered RuleDefinition. Rules are never mutated
// after registration.
type Rule struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Trigger    string         `json:"trigger"`
	Position   int            `json:"position"`
	Definition RuleDefinition `json:"definition"`

	Path     Path        `json:"-"`
	Compiled *vm.Program `json:"-"`
}

// NewRule validates def and builds a Rule. An empty id gets a generated one.
func NewRule(id, model, trigger string, def RuleDefinition) (*Rule, error) {
	if err := validateDefinition(trigger, def); err != nil {
		return nil, err
	}

	path, err := ParsePath(def.At)
	if err != nil {
		return nil, fmt.Errorf("%w: at: %w", ErrInvalidRule, err)
	}

	var prog *vm.Program
	if strings.TrimSpace(def.When) != "" {
		prog, err = expr.Compile(def.When, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: when: %w", ErrInvalidRule, err)
		}
	}

	if id == "" {
		id = uuid.New().String()
	}

	return &Rule{
		ID:         id,
		Model:      model,
		Trigger:    trigger,
		Definition: def,
		Path:       path,
		Compiled:   prog,
	}, nil
}

func validateDefinition(trigger string, def RuleDefinition) error {
	if trigger == "" {
		return fmt.Errorf("%w: trigger is required", ErrInvalidRule)
	}
	if def.Using == "" {
		return fmt.Errorf("%w: using is required", ErrInvalidRule)
	}
	if def.Populate.IsZero() {
		return fmt.Errorf("%w: populate is required", ErrInvalidRule)
	}
	if !def.Populate.Composite && len(def.Populate.Fields) != 1 {
		return fmt.Errorf("%w: a single populate takes exactly one field", ErrInvalidRule)
	}
	seen := make(map[string]bool, len(def.Populate.Fields))
	for _, f := range def.Populate.Fields {
		if f == "" {
			return fmt.Errorf("%w: populate contains an empty field name", ErrInvalidRule)
		}
		if seen[f] {
			return fmt.Errorf("%w: populate lists %s twice", ErrInvalidRule, f)
		}
		seen[f] = true
	}
	for field, alias := range def.As {
		if alias == "" {
			return fmt.Errorf("%w: alias for %s is empty", ErrInvalidRule, field)
		}
	}
	return nil
}

// Entity returns the bucket the rule's keys live in: the explicit bucket name,
// or the using field without its "_id" suffix.
func (r *Rule) Entity() string {
	if r.Definition.BucketName != "" {
		return r.Definition.BucketName
	}
	return strings.TrimSuffix(r.Definition.Using, "_id")
}

// Alias returns the output field name for a populated field.
func (r *Rule) Alias(field string) string {
	if alias, ok := r.Definition.As[field]; ok {
		return alias
	}
	return field
}

func (r *Rule) Using() string {
	return r.Definition.Using
}

func (r *Rule) IsComposite() bool {
	return r.Definition.Populate.Composite
}

func (r *Rule) Fields() []string {
	return r.Definition.Populate.Fields
}
