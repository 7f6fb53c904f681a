package store

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	default:
		return v
	}
}

// applyOp mutates data. Dotted paths address nested maps.
func applyOp(data map[string]any, op remote.FieldOp) error {
	parent, field, err := walk(data, op.Path, op.Kind != remote.OpDelete)
	if err != nil {
		return err
	}
	if parent == nil {
		return nil
	}
	switch op.Kind {
	case remote.OpSet:
		parent[field] = cloneValue(op.Value)
	case remote.OpServerTime:
		parent[field] = nowUTC()
	case remote.OpDelete:
		delete(parent, field)
	case remote.OpArrayUnion:
		cur, _ := parent[field].([]any)
		cur = append([]any(nil), cur...)
		for _, v := range op.Values {
			if !containsValue(cur, v) {
				cur = append(cur, cloneValue(v))
			}
		}
		parent[field] = cur
	case remote.OpArrayRemove:
		cur, _ := parent[field].([]any)
		out := make([]any, 0, len(cur))
		for _, x := range cur {
			if !containsValue(op.Values, x) {
				out = append(out, x)
			}
		}
		parent[field] = out
	default:
		return errs.Validation("unknown field op %d on %s", op.Kind, op.Path)
	}
	return nil
}

func walk(data map[string]any, path string, create bool) (map[string]any, string, error) {
	parts := strings.Split(path, ".")
	cur := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok {
			if !create {
				return nil, "", nil
			}
			m := map[string]any{}
			cur[p] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, "", errors.Wrapf(errs.ErrValidation, "field %s is not a map", p)
		}
		cur = m
	}
	return cur, parts[len(parts)-1], nil
}

func containsValue(list []any, v any) bool {
	for _, x := range list {
		if equalValues(x, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize makes values decoded from JSON comparable to values written
// by the client.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = normalize(v)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalize(x[i])
		}
		return out
	default:
		if f, ok := toFloat(v); ok {
			return f
		}
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		return t, err == nil
	}
	return time.Time{}, false
}

// compareValues orders scalars of the same family.
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	switch x := a.(type) {
	case string:
		if tb, ok := b.(time.Time); ok {
			if ta, ok := toTime(x); ok {
				return ta.Compare(tb), true
			}
		}
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func matches(data map[string]any, f remote.Filter) bool {
	v, ok := data[f.Field]
	if f.Op == "array-contains" {
		list, _ := v.([]any)
		return containsValue(list, f.Value)
	}
	if !ok {
		return false
	}
	if f.Op == "==" {
		return equalValues(v, f.Value)
	}
	if f.Op == "!=" {
		return !equalValues(v, f.Value)
	}
	c, ok := compareValues(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

// runQuery must be called with s.mu held.
func (s *Store) runQuery(q remote.Query) []remote.Record {
	out := make([]remote.Record, 0)
	for id, d := range s.docs[q.Collection] {
		keep := true
		for _, f := range q.Filters {
			if !matches(d.Data, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, record(id, d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c, ok := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if ok && c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
