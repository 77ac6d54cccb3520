package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// ErrInvalidFilter is returned for malformed filter expressions.
var ErrInvalidFilter = errors.New("invalid filter")

// Parse compiles a filter expression. A nil or empty expression yields an
// empty set that matches every document.
func Parse(expr map[string]any) (*FilterSet, error) {
	fs := &FilterSet{}

	keys := make([]string, 0, len(expr))
	for k := range expr {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if key == "" || strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: unsupported field %q", ErrInvalidFilter, key)
		}

		raw := expr[key]

		ops, ok := operatorObject(raw)
		if !ok {
			fs.Filters = append(fs.Filters, Eq(key, raw))
			continue
		}

		names := make([]string, 0, len(ops))
		for op := range ops {
			names = append(names, op)
		}

		sort.Strings(names)

		for _, name := range names {
			f := Filter{Key: key, Operator: Operator(name), Value: ops[name]}
			if err := f.validate(); err != nil {
				return nil, err
			}

			fs.Filters = append(fs.Filters, f)
		}
	}

	return fs, nil
}

// operatorObject reports whether v is a map whose keys are all operators.
func operatorObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		if d, isDoc := v.(Document); isDoc {
			m, ok = map[string]any(d), true
		}
	}

	if !ok || len(m) == 0 {
		return nil, false
	}

	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}

	return m, true
}

func (f Filter) validate() error {
	switch f.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		return nil
	case OpIn, OpNotIn:
		if _, ok := asList(f.Value); !ok {
			return fmt.Errorf("%w: %s on %q expects an array", ErrInvalidFilter, f.Operator, f.Key)
		}

		return nil
	case OpExists:
		if _, ok := f.Value.(bool); !ok {
			return fmt.Errorf("%w: $exists on %q expects a boolean", ErrInvalidFilter, f.Key)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q on %q", ErrInvalidFilter, f.Operator, f.Key)
	}
}

// Matches checks if the provided metadata matches this filter.
func (f *Filter) Matches(doc Document) bool {
	value, exists := doc[f.Key]

	switch f.Operator {
	case OpExists:
		want, _ := f.Value.(bool)
		return exists == want
	case OpNotEqual:
		return !exists || !compareEqual(value, f.Value)
	case OpNotIn:
		return !exists || !compareIn(value, f.Value)
	}

	if !exists {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value)
	case OpGreaterThan:
		c, ok := compareOrder(value, f.Value)
		return ok && c > 0
	case OpGreaterEqual:
		c, ok := compareOrder(value, f.Value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := compareOrder(value, f.Value)
		return ok && c < 0
	case OpLessEqual:
		c, ok := compareOrder(value, f.Value)
		return ok && c <= 0
	case OpIn:
		return compareIn(value, f.Value)
	default:
		return false
	}
}

// Matches checks if the provided metadata matches all filters in the set.
// A nil set matches everything.
func (fs *FilterSet) Matches(doc Document) bool {
	if fs == nil {
		return true
	}

	for i := range fs.Filters {
		if !fs.Filters[i].Matches(doc) {
			return false
		}
	}

	return true
}

// compareEqual compares two values for equality. A stored array equals a
// scalar when any element does.
func compareEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, ok := asFloat64(a); ok {
		fb, ok := asFloat64(b)
		return ok && fa == fb
	}

	if la, ok := asList(a); ok {
		if lb, ok := asList(b); ok {
			if len(la) != len(lb) {
				return false
			}

			for i := range la {
				if !compareEqual(la[i], lb[i]) {
					return false
				}
			}

			return true
		}

		for _, x := range la {
			if compareEqual(x, b) {
				return true
			}
		}

		return false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	return reflect.DeepEqual(a, b)
}

// compareOrder orders numbers numerically, strings lexically and times
// chronologically. Mixed kinds are not comparable.
func compareOrder(a, b any) (int, bool) {
	if fa, ok := asFloat64(a); ok {
		fb, ok := asFloat64(b)
		if !ok {
			return 0, false
		}

		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}

	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}

		return strings.Compare(sa, sb), true
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}

		return ta.Compare(tb), true
	}

	return 0, false
}

func compareIn(a, list any) bool {
	items, ok := asList(list)
	if !ok {
		return false
	}

	for _, item := range items {
		if compareEqual(a, item) {
			return true
		}
	}

	return false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}

		return out, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
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
