package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/eventcore/pkg/event"
)

// Op identifies a predicate or combinator in a Filter tree (§4.7).
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLe       Op = "le"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpIn       Op = "in"
	OpContains Op = "contains"
	OpBetween  Op = "between"
	OpAnd      Op = "and"
	OpOr       Op = "or"
	OpNot      Op = "not"
)

// Filter is one node of a predicate tree over {event_type, entity_id,
// timestamp, payload.<path>}. Leaf nodes set Field/Value(s); combinator
// nodes (and/or/not) set Children.
type Filter struct {
	Op       Op
	Field    string
	Value    interface{}
	Values   []interface{}
	Children []*Filter
}

// Eq builds a leaf equality predicate.
func Eq(field string, value interface{}) *Filter { return &Filter{Op: OpEq, Field: field, Value: value} }

// And/Or/Not build combinator nodes.
func And(children ...*Filter) *Filter { return &Filter{Op: OpAnd, Children: children} }
func Or(children ...*Filter) *Filter  { return &Filter{Op: OpOr, Children: children} }
func Not(child *Filter) *Filter       { return &Filter{Op: OpNot, Children: []*Filter{child}} }

// Eval reports whether e satisfies f, evaluating payload predicates
// row-by-row (§4.7: "Payload predicates are evaluated row-by-row after
// column-level skipping").
func (f *Filter) Eval(e *event.Event) bool {
	if f == nil {
		return true
	}
	switch f.Op {
	case OpAnd:
		for _, c := range f.Children {
			if !c.Eval(e) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.Children {
			if c.Eval(e) {
				return true
			}
		}
		return len(f.Children) == 0
	case OpNot:
		if len(f.Children) != 1 {
			return false
		}
		return !f.Children[0].Eval(e)
	default:
		return f.evalLeaf(e)
	}
}

func (f *Filter) evalLeaf(e *event.Event) bool {
	actual, ok := fieldValue(e, f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case OpEq:
		return compareEq(actual, f.Value)
	case OpNe:
		return !compareEq(actual, f.Value)
	case OpLt, OpLe, OpGt, OpGe:
		cmp, ok := compareOrdered(actual, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn:
		for _, v := range f.Values {
			if compareEq(actual, v) {
				return true
			}
		}
		return false
	case OpBetween:
		if len(f.Values) != 2 {
			return false
		}
		lo, ok1 := compareOrdered(actual, f.Values[0])
		hi, ok2 := compareOrdered(actual, f.Values[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	case OpContains:
		s, ok := actual.(string)
		sub, ok2 := f.Value.(string)
		return ok && ok2 && strings.Contains(s, sub)
	default:
		return false
	}
}

// fieldValue resolves f's field against e: the three fixed columns plus
// an arbitrary payload.<path> lookup into the JSON payload tree.
func fieldValue(e *event.Event, field string) (interface{}, bool) {
	switch field {
	case "event_type":
		return e.Type, true
	case "entity_id":
		return e.EntityID, true
	case "timestamp":
		return e.TimestampMicros, true
	}

	const prefix = "payload."
	if !strings.HasPrefix(field, prefix) {
		return nil, false
	}
	path := strings.Split(strings.TrimPrefix(field, prefix), ".")

	var tree map[string]interface{}
	if err := json.Unmarshal(e.Payload, &tree); err != nil {
		return nil, false
	}

	var cur interface{} = tree
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func compareEq(a, b interface{}) bool {
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			return an == bn
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareOrdered returns -1/0/1 for a</==/> b, and false if the two values
// cannot be ordered against each other.
func compareOrdered(a, b interface{}) (int, bool) {
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
