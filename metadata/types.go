package metadata

import (
	"maps"
	"sort"
)

// Document is opaque string-keyed metadata attached to a stored vector.
type Document map[string]any

// Clone returns a shallow copy of d. A nil document clones to nil.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}

	return maps.Clone(d)
}

// Merge returns a new document holding d overlaid with patch. Keys of patch
// replace keys of d; nested values are not merged.
func (d Document) Merge(patch Document) Document {
	out := make(Document, len(d)+len(patch))
	maps.Copy(out, d)
	maps.Copy(out, patch)

	return out
}

// Operator is a filter comparison.
type Operator string

const (
	// OpEqual represents the equality operator.
	OpEqual Operator = "$eq"
	// OpNotEqual represents the inequality operator.
	OpNotEqual Operator = "$ne"
	// OpGreaterThan represents the greater than operator.
	OpGreaterThan Operator = "$gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "$gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "$lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "$lte"
	// OpIn represents the in list operator.
	OpIn Operator = "$in"
	// OpNotIn represents the not in list operator.
	OpNotIn Operator = "$nin"
	// OpExists checks presence of a field.
	OpExists Operator = "$exists"
)

// Filter represents a single metadata filter condition.
type Filter struct {
	Key      string
	Operator Operator
	Value    any
}

// FilterSet is a conjunction of filters.
type FilterSet struct {
	Filters []Filter
}

// Len returns the number of conditions.
func (fs *FilterSet) Len() int {
	if fs == nil {
		return 0
	}

	return len(fs.Filters)
}

// Keys returns the distinct field names referenced by the set, sorted.
func (fs *FilterSet) Keys() []string {
	seen := make(map[string]struct{})

	for _, f := range fs.Filters {
		seen[f.Key] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Eq builds an equality condition.
func Eq(key string, v any) Filter { return Filter{Key: key, Operator: OpEqual, Value: v} }

// Ne builds an inequality condition.
func Ne(key string, v any) Filter { return Filter{Key: key, Operator: OpNotEqual, Value: v} }

// Gt builds a greater than condition.
func Gt(key string, v any) Filter { return Filter{Key: key, Operator: OpGreaterThan, Value: v} }

// Gte builds a greater than or equal condition.
func Gte(key string, v any) Filter { return Filter{Key: key, Operator: OpGreaterEqual, Value: v} }

// Lt builds a less than condition.
func Lt(key string, v any) Filter { return Filter{Key: key, Operator: OpLessThan, Value: v} }

// Lte builds a less than or equal condition.
func Lte(key string, v any) Filter { return Filter{Key: key, Operator: OpLessEqual, Value: v} }

// In builds a membership condition.
func In(key string, vs ...any) Filter { return Filter{Key: key, Operator: OpIn, Value: vs} }

// NotIn builds a negated membership condition.
func NotIn(key string, vs ...any) Filter { return Filter{Key: key, Operator: OpNotIn, Value: vs} }

// Exists builds a presence condition.
func Exists(key string, present bool) Filter {
	return Filter{Key: key, Operator: OpExists, Value: present}
}

// And combines filters into a set.
func And(filters ...Filter) *FilterSet { return &FilterSet{Filters: filters} }
