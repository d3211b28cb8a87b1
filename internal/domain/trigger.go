package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Condition is one node of a rule trigger tree. The set of node types is closed: Equals,
// Threshold, OneOf, And and Or.
type Condition interface {
	matches(data FormData) bool
	fmt.Stringer
}

type CompareOp string

const (
	OpGreater      CompareOp = "gt"
	OpGreaterEqual CompareOp = "gte"
	OpLess         CompareOp = "lt"
	OpLessEqual    CompareOp = "lte"
)

type Equals struct {
	Field string
	Value any
}

type Threshold struct {
	Field string
	Op    CompareOp
	Value float64
}

type OneOf struct {
	Field  string
	Values []any
}

type And struct {
	Conditions []Condition
}

type Or struct {
	Conditions []Condition
}

func (c Equals) matches(data FormData) bool {
	if c.Field == "" || c.Value == nil {
		return false
	}
	actual, ok := data.Lookup(c.Field)
	if !ok {
		return false
	}
	return valuesEqual(actual, c.Value)
}

func (c Equals) String() string {
	return fmt.Sprintf("%s == %s", c.Field, describeValue(c.Value))
}

func (c Threshold) matches(data FormData) bool {
	if c.Field == "" {
		return false
	}
	raw, ok := data.Lookup(c.Field)
	if !ok {
		return false
	}
	actual, ok := AsNumber(raw)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGreater:
		return actual > c.Value
	case OpGreaterEqual:
		return actual >= c.Value
	case OpLess:
		return actual < c.Value
	case OpLessEqual:
		return actual <= c.Value
	default:
		return false
	}
}

func (c Threshold) String() string {
	symbols := map[CompareOp]string{OpGreater: ">", OpGreaterEqual: ">=", OpLess: "<", OpLessEqual: "<="}
	sym, ok := symbols[c.Op]
	if !ok {
		sym = string(c.Op)
	}
	return fmt.Sprintf("%s %s %v", c.Field, sym, c.Value)
}

func (c OneOf) matches(data FormData) bool {
	if c.Field == "" || len(c.Values) == 0 {
		return false
	}
	actual, ok := data.Lookup(c.Field)
	if !ok {
		return false
	}
	// multi-select fields match when any selected option is in the set
	if list, isList := actual.([]any); isList {
		for _, item := range list {
			if c.contains(item) {
				return true
			}
		}
		return false
	}
	return c.contains(actual)
}

func (c OneOf) contains(actual any) bool {
	for _, v := range c.Values {
		if valuesEqual(actual, v) {
			return true
		}
	}
	return false
}

func (c OneOf) String() string {
	parts := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		parts = append(parts, describeValue(v))
	}
	return fmt.Sprintf("%s in [%s]", c.Field, strings.Join(parts, ", "))
}

func (c And) matches(data FormData) bool {
	if len(c.Conditions) == 0 {
		return false
	}
	for _, child := range c.Conditions {
		if child == nil || !child.matches(data) {
			return false
		}
	}
	return true
}

func (c And) String() string {
	return joinConditions(c.Conditions, " AND ")
}

func (c Or) matches(data FormData) bool {
	for _, child := range c.Conditions {
		if child != nil && child.matches(data) {
			return true
		}
	}
	return false
}

func (c Or) String() string {
	return joinConditions(c.Conditions, " OR ")
}

func joinConditions(conds []Condition, sep string) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		if c == nil {
			parts = append(parts, "<invalid>")
			continue
		}
		parts = append(parts, c.String())
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Trigger wraps the root condition of a rule. A zero Trigger, or one decoded from malformed
// JSON, never matches.
type Trigger struct {
	Condition Condition
}

func When(c Condition) Trigger {
	return Trigger{Condition: c}
}

func (t Trigger) Matches(data FormData) bool {
	if t.Condition == nil {
		return false
	}
	return t.Condition.matches(data)
}

func (t Trigger) String() string {
	if t.Condition == nil {
		return "<never>"
	}
	return t.Condition.String()
}

type conditionJSON struct {
	Type       string            `json:"type"`
	Field      string            `json:"field,omitempty"`
	Op         CompareOp         `json:"op,omitempty"`
	Value      any               `json:"value,omitempty"`
	Values     []any             `json:"values,omitempty"`
	Conditions []json.RawMessage `json:"conditions,omitempty"`
}

// UnmarshalJSON never fails on a malformed tree; the trigger is left empty so the rule fails
// closed instead of breaking the whole template decode.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	t.Condition = nil
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	cond, err := decodeCondition(data)
	if err != nil {
		return nil
	}
	t.Condition = cond
	return nil
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	if t.Condition == nil {
		return []byte("null"), nil
	}
	enc, err := encodeCondition(t.Condition)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

// ParseTrigger decodes a trigger tree and reports why it is malformed, for template authoring.
func ParseTrigger(data []byte) (Trigger, error) {
	cond, err := decodeCondition(data)
	if err != nil {
		return Trigger{}, err
	}
	return Trigger{Condition: cond}, nil
}

func decodeCondition(data []byte) (Condition, error) {
	var raw conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "equals", "eq":
		if raw.Field == "" || raw.Value == nil {
			return nil, fmt.Errorf("equals condition needs field and value")
		}
		return Equals{Field: raw.Field, Value: raw.Value}, nil
	case "threshold":
		n, ok := AsNumber(raw.Value)
		if raw.Field == "" || !ok {
			return nil, fmt.Errorf("threshold condition needs field and numeric value")
		}
		switch raw.Op {
		case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		default:
			return nil, fmt.Errorf("threshold condition has unknown op %q", raw.Op)
		}
		return Threshold{Field: raw.Field, Op: raw.Op, Value: n}, nil
	case "one_of", "in":
		if raw.Field == "" || len(raw.Values) == 0 {
			return nil, fmt.Errorf("one_of condition needs field and values")
		}
		return OneOf{Field: raw.Field, Values: raw.Values}, nil
	case "and", "or":
		if len(raw.Conditions) == 0 {
			return nil, fmt.Errorf("%s condition needs children", raw.Type)
		}
		children := make([]Condition, 0, len(raw.Conditions))
		for _, child := range raw.Conditions {
			c, err := decodeCondition(child)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if strings.EqualFold(raw.Type, "and") {
			return And{Conditions: children}, nil
		}
		return Or{Conditions: children}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", raw.Type)
	}
}

func encodeCondition(c Condition) (map[string]any, error) {
	switch v := c.(type) {
	case Equals:
		return map[string]any{"type": "equals", "field": v.Field, "value": v.Value}, nil
	case Threshold:
		return map[string]any{"type": "threshold", "field": v.Field, "op": v.Op, "value": v.Value}, nil
	case OneOf:
		return map[string]any{"type": "one_of", "field": v.Field, "values": v.Values}, nil
	case And:
		children, err := encodeChildren(v.Conditions)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "and", "conditions": children}, nil
	case Or:
		children, err := encodeChildren(v.Conditions)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "or", "conditions": children}, nil
	default:
		return nil, fmt.Errorf("unsupported condition %T", c)
	}
}

func encodeChildren(conds []Condition) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(conds))
	for _, c := range conds {
		if c == nil {
			return nil, fmt.Errorf("nil condition in tree")
		}
		enc, err := encodeCondition(c)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}
