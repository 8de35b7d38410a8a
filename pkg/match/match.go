// Package match decides whether an entry is handed to a stage.
//
// Criteria map a field name to a condition object:
//
//	match:
//	  kind:   {equals: contact}
//	  email:  {exists: true}
//	  source: {in: [crm, import]}
//	  path:   {glob: "/users/*"}
//
// All conditions must hold. Empty criteria match every entry.
package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/gobwas/glob"

	"github.com/polisai/kvcopy/pkg/domain"
)

// Condition operators.
const (
	OpEquals    = "equals"
	OpNotEquals = "notEquals"
	OpExists    = "exists"
	OpIn        = "in"
	OpGlob      = "glob"
)

var (
	// ErrInvalidCriteria indicates a criterion could not be compiled.
	ErrInvalidCriteria = errors.New("invalid match criteria")
)

// Matcher evaluates compiled criteria against entries. It is immutable and
// safe for concurrent use.
type Matcher struct {
	conditions []condition
}

type condition struct {
	field string
	op    string
	value any
	list  []any
	glob  glob.Glob
}

// Compile builds a Matcher from raw criteria. Fields are evaluated in sorted
// order so results and errors are deterministic.
func Compile(criteria map[string]any) (*Matcher, error) {
	fields := make([]string, 0, len(criteria))
	for field := range criteria {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	m := &Matcher{}
	for _, field := range fields {
		spec, ok := criteria[field].(map[string]any)
		if !ok {
			// A bare value is shorthand for equals.
			m.conditions = append(m.conditions, condition{field: field, op: OpEquals, value: criteria[field]})
			continue
		}

		ops := make([]string, 0, len(spec))
		for op := range spec {
			ops = append(ops, op)
		}
		sort.Strings(ops)

		for _, op := range ops {
			cond, err := compileCondition(field, op, spec[op])
			if err != nil {
				return nil, err
			}
			m.conditions = append(m.conditions, cond)
		}
	}
	return m, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(criteria map[string]any) *Matcher {
	m, err := Compile(criteria)
	if err != nil {
		panic(err)
	}
	return m
}

func compileCondition(field, op string, raw any) (condition, error) {
	cond := condition{field: field, op: op, value: raw}
	switch op {
	case OpEquals, OpNotEquals:
	case OpExists:
		if _, ok := raw.(bool); !ok {
			return condition{}, fmt.Errorf("%w: %s.%s must be a boolean", ErrInvalidCriteria, field, op)
		}
	case OpIn:
		list, ok := raw.([]any)
		if !ok {
			return condition{}, fmt.Errorf("%w: %s.%s must be a list", ErrInvalidCriteria, field, op)
		}
		cond.list = list
	case OpGlob:
		pattern, ok := raw.(string)
		if !ok {
			return condition{}, fmt.Errorf("%w: %s.%s must be a string", ErrInvalidCriteria, field, op)
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return condition{}, fmt.Errorf("%w: %s.%s: %v", ErrInvalidCriteria, field, op, err)
		}
		cond.glob = g
	default:
		return condition{}, fmt.Errorf("%w: %s: unknown operator %q", ErrInvalidCriteria, field, op)
	}
	return cond, nil
}

// Empty reports whether the matcher accepts every entry.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.conditions) == 0
}

// Matches reports whether entry satisfies every condition. A nil Matcher
// matches everything.
func (m *Matcher) Matches(entry domain.Entry) bool {
	if m == nil {
		return true
	}
	for _, c := range m.conditions {
		if !c.matches(entry) {
			return false
		}
	}
	return true
}

func (c condition) matches(entry domain.Entry) bool {
	value, present := entry.Get(c.field)
	switch c.op {
	case OpExists:
		return present == c.value.(bool)
	case OpEquals:
		return present && equal(value, c.value)
	case OpNotEquals:
		return !present || !equal(value, c.value)
	case OpIn:
		if !present {
			return false
		}
		for _, candidate := range c.list {
			if equal(value, candidate) {
				return true
			}
		}
		return false
	case OpGlob:
		s, ok := value.(string)
		return present && ok && c.glob.Match(s)
	}
	return false
}

// equal compares scalars loosely across numeric kinds so that YAML ints match
// JSON floats.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
