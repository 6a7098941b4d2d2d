package engine

import (
	"fmt"
	"reflect"
	"sort"
)

// Condition is a compiled transition guard. Eval returns whether the guard
// passes against the merged workflow metadata + caller context, plus the
// reasons it blocked when it does not.
//
// Missing-key semantics are asymmetric on purpose: a missing key passes
// plain equality and lt/lte-only comparisons, but blocks min/max/gt/gte/eq.
// Downstream process definitions rely on this, so it is preserved rather
// than normalized.
type Condition interface {
	Eval(ctx map[string]any) (bool, []string)
}

type andCondition []Condition

func (a andCondition) Eval(ctx map[string]any) (bool, []string) {
	var reasons []string
	ok := true
	for _, c := range a {
		if pass, why := c.Eval(ctx); !pass {
			ok = false
			reasons = append(reasons, why...)
		}
	}
	return ok, reasons
}

type orCondition []Condition

func (o orCondition) Eval(ctx map[string]any) (bool, []string) {
	var reasons []string
	for _, c := range o {
		if pass, why := c.Eval(ctx); pass {
			return true, nil
		} else {
			reasons = append(reasons, why...)
		}
	}
	return false, []string{fmt.Sprintf("no alternative matched: %v", reasons)}
}

type equalsCondition struct {
	key  string
	want any
}

func (e equalsCondition) Eval(ctx map[string]any) (bool, []string) {
	got, present := ctx[e.key]
	if !present {
		// absent keys are non-blocking under plain equality
		return true, nil
	}
	if wf, ok1 := toFloat(e.want); ok1 {
		if gf, ok2 := toFloat(got); ok2 {
			if wf == gf {
				return true, nil
			}
			return false, []string{fmt.Sprintf("%s: expected %v, got %v", e.key, e.want, got)}
		}
	}
	if reflect.DeepEqual(e.want, got) {
		return true, nil
	}
	return false, []string{fmt.Sprintf("%s: expected %v, got %v", e.key, e.want, got)}
}

// rangeCondition holds the numeric comparison operators. Only set operators
// apply. min/gte and max/lte overlap deliberately; both spellings occur in
// process files.
type rangeCondition struct {
	key string
	min *float64
	max *float64
	lt  *float64
	lte *float64
	gt  *float64
	gte *float64
	eq  *float64
}

// requiresPresence reports whether a missing context value blocks this
// comparison. lt/lte-only checks pass on absence.
func (r rangeCondition) requiresPresence() bool {
	return r.min != nil || r.max != nil || r.gt != nil || r.gte != nil || r.eq != nil
}

func (r rangeCondition) Eval(ctx map[string]any) (bool, []string) {
	raw, present := ctx[r.key]
	if !present {
		if r.requiresPresence() {
			return false, []string{fmt.Sprintf("%s: missing from context", r.key)}
		}
		return true, nil
	}
	v, ok := toFloat(raw)
	if !ok {
		return false, []string{fmt.Sprintf("%s: %v is not comparable", r.key, raw)}
	}
	var reasons []string
	if r.min != nil && v < *r.min {
		reasons = append(reasons, fmt.Sprintf("%s: expected >= %v, got %v", r.key, *r.min, v))
	}
	if r.gte != nil && v < *r.gte {
		reasons = append(reasons, fmt.Sprintf("%s: expected >= %v, got %v", r.key, *r.gte, v))
	}
	if r.gt != nil && v <= *r.gt {
		reasons = append(reasons, fmt.Sprintf("%s: expected > %v, got %v", r.key, *r.gt, v))
	}
	if r.max != nil && v > *r.max {
		reasons = append(reasons, fmt.Sprintf("%s: expected <= %v, got %v", r.key, *r.max, v))
	}
	if r.lte != nil && v > *r.lte {
		reasons = append(reasons, fmt.Sprintf("%s: expected <= %v, got %v", r.key, *r.lte, v))
	}
	if r.lt != nil && v >= *r.lt {
		reasons = append(reasons, fmt.Sprintf("%s: expected < %v, got %v", r.key, *r.lt, v))
	}
	if r.eq != nil && v != *r.eq {
		reasons = append(reasons, fmt.Sprintf("%s: expected %v, got %v", r.key, *r.eq, v))
	}
	return len(reasons) == 0, reasons
}

// alwaysTrue is the guard of an unconditional edge.
type alwaysTrue struct{}

func (alwaysTrue) Eval(map[string]any) (bool, []string) { return true, nil }

// CompileCondition builds the condition AST from its raw map form. All keys
// in one map are AND-ed together, including across an "or" sibling. Unknown
// comparison operators are a configuration error and fail here, at load
// time.
func CompileCondition(raw map[string]any) (Condition, error) {
	if len(raw) == 0 {
		return alwaysTrue{}, nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts andCondition
	for _, key := range keys {
		val := raw[key]
		if key == "or" {
			alternatives, ok := val.([]any)
			if !ok {
				return nil, fmt.Errorf("condition key %q must hold a list of sub-conditions", key)
			}
			var or orCondition
			for i, alt := range alternatives {
				sub, ok := toStringMap(alt)
				if !ok {
					return nil, fmt.Errorf("or alternative %d is not a condition map", i)
				}
				compiled, err := CompileCondition(sub)
				if err != nil {
					return nil, err
				}
				or = append(or, compiled)
			}
			parts = append(parts, or)
			continue
		}
		if sub, ok := toStringMap(val); ok {
			rc, err := compileRange(key, sub)
			if err != nil {
				return nil, err
			}
			parts = append(parts, rc)
			continue
		}
		parts = append(parts, equalsCondition{key: key, want: val})
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts, nil
}

func compileRange(key string, ops map[string]any) (Condition, error) {
	rc := rangeCondition{key: key}
	for op, rawVal := range ops {
		v, ok := toFloat(rawVal)
		if !ok {
			return nil, fmt.Errorf("condition %s.%s: %v is not numeric", key, op, rawVal)
		}
		switch op {
		case "min":
			rc.min = &v
		case "max":
			rc.max = &v
		case "lt":
			rc.lt = &v
		case "lte":
			rc.lte = &v
		case "gt":
			rc.gt = &v
		case "gte":
			rc.gte = &v
		case "eq":
			rc.eq = &v
		default:
			return nil, fmt.Errorf("condition %s: unknown comparison operator %q", key, op)
		}
	}
	return rc, nil
}

func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		// yaml.v3 can produce this form for nested maps
		out := make(map[string]any, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	}
	return nil, false
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
	}
	return 0, false
}
