package mock

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/asyncdeta/deta_sdk_go/pkg/base"
)

var operators = map[string]bool{
	"":             true,
	"ne":           true,
	"lt":           true,
	"gt":           true,
	"lte":          true,
	"gte":          true,
	"pfx":          true,
	"r":            true,
	"contains":     true,
	"not_contains": true,
}

func splitCondition(cond string) (field, op string) {
	field, op, _ = strings.Cut(cond, "?")
	return field, op
}

func validatePredicate(p map[string]any) error {
	for cond, want := range p {
		field, op := splitCondition(cond)
		if field == "" {
			return fmt.Errorf("empty field in condition %q", cond)
		}
		if !operators[op] {
			return fmt.Errorf("unknown operator %q", op)
		}
		if op == "r" {
			bounds, ok := want.([]any)
			if !ok || len(bounds) != 2 {
				return fmt.Errorf("range condition %q needs [from, to]", cond)
			}
		}
	}
	return nil
}

// matchAny ORs the predicates; an empty list or an empty predicate matches
// everything.
func matchAny(rec base.Record, preds []base.Predicate) bool {
	if len(preds) == 0 {
		return true
	}
	for _, p := range preds {
		if matchAll(rec, p) {
			return true
		}
	}
	return false
}

func matchAll(rec base.Record, p base.Predicate) bool {
	for cond, want := range p {
		field, op := splitCondition(cond)
		got, ok := lookup(rec, field)
		if !match(got, ok, op, want) {
			return false
		}
	}
	return true
}

func lookup(rec map[string]any, path string) (any, bool) {
	var cur any = rec
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			if r, isRec := cur.(base.Record); isRec {
				obj = r
			} else {
				return nil, false
			}
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func match(got any, present bool, op string, want any) bool {
	switch op {
	case "":
		return present && reflect.DeepEqual(got, want)
	case "ne":
		return !present || !reflect.DeepEqual(got, want)
	case "lt", "gt", "lte", "gte":
		if !present {
			return false
		}
		c, ok := compare(got, want)
		if !ok {
			return false
		}
		switch op {
		case "lt":
			return c < 0
		case "gt":
			return c > 0
		case "lte":
			return c <= 0
		default:
			return c >= 0
		}
	case "pfx":
		s, ok := got.(string)
		p, pok := want.(string)
		return present && ok && pok && strings.HasPrefix(s, p)
	case "r":
		bounds, _ := want.([]any)
		if !present || len(bounds) != 2 {
			return false
		}
		lo, ok1 := compare(got, bounds[0])
		hi, ok2 := compare(got, bounds[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	case "contains":
		return present && contains(got, want)
	case "not_contains":
		return !present || !contains(got, want)
	}
	return false
}

func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	}
	return 0, false
}

func contains(got, want any) bool {
	switch g := got.(type) {
	case string:
		w, ok := want.(string)
		return ok && strings.Contains(g, w)
	case []any:
		for _, v := range g {
			if reflect.DeepEqual(v, want) {
				return true
			}
		}
	}
	return false
}

func applyUpdates(rec base.Record, u *base.Updates) error {
	for path, v := range u.Set {
		if path == "key" {
			return fmt.Errorf("cannot update key")
		}
		if err := assign(rec, path, v); err != nil {
			return err
		}
	}
	for path, v := range u.Increment {
		delta, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("increment of %q is not a number", path)
		}
		cur, present := lookup(rec, path)
		start := 0.0
		if present {
			if start, ok = toFloat(cur); !ok {
				return fmt.Errorf("field %q is not a number", path)
			}
		}
		if err := assign(rec, path, start+delta); err != nil {
			return err
		}
	}
	for path, v := range u.Append {
		if err := extend(rec, path, v, false); err != nil {
			return err
		}
	}
	for path, v := range u.Prepend {
		if err := extend(rec, path, v, true); err != nil {
			return err
		}
	}
	for _, path := range u.Delete {
		if path == "key" {
			return fmt.Errorf("cannot delete key")
		}
		remove(rec, path)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func extend(rec base.Record, path string, v any, front bool) error {
	add, ok := v.([]any)
	if !ok {
		add = []any{v}
	}
	var list []any
	if cur, present := lookup(rec, path); present {
		if list, ok = cur.([]any); !ok {
			return fmt.Errorf("field %q is not a list", path)
		}
	}
	if front {
		list = append(append([]any{}, add...), list...)
	} else {
		list = append(append([]any{}, list...), add...)
	}
	return assign(rec, path, list)
}

func assign(rec map[string]any, path string, v any) error {
	parts := strings.Split(path, ".")
	cur := rec
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			if _, exists := cur[part]; exists {
				return fmt.Errorf("field %q is not an object", part)
			}
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

func remove(rec map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := rec
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
