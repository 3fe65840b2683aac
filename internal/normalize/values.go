package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// lookup returns the first present value of f in the given objects, probing
// every key in the first object before moving to the next.
func lookup(f Field, objs ...map[string]any) (any, bool) {
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		for _, key := range f.Keys {
			v, ok := obj[key]
			if !ok || v == nil {
				continue
			}
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func (n *Normalizer) resolveDefault(f Field) any {
	g, ok := f.Default.(Generated)
	if !ok {
		return f.Default
	}
	switch g {
	case GenerateID:
		return n.newID()
	case GenerateNow:
		return n.now().UTC().Format(time.RFC3339)
	}
	return nil
}

func (n *Normalizer) str(f Field, objs ...map[string]any) string {
	if v, ok := lookup(f, objs...); ok {
		if s, ok := asString(v); ok {
			return s
		}
	}
	s, _ := asString(n.resolveDefault(f))
	return s
}

func (n *Normalizer) boolean(f Field, objs ...map[string]any) bool {
	if v, ok := lookup(f, objs...); ok {
		if b, ok := asBool(v); ok {
			return b
		}
	}
	b, _ := f.Default.(bool)
	return b
}

// stringList returns the list value of f. A single string is wrapped.
func (n *Normalizer) stringList(f Field, objs ...map[string]any) []string {
	if v, ok := lookup(f, objs...); ok {
		var out []string
		for _, item := range asList(v) {
			if s, ok := asString(item); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	def, _ := f.Default.([]string)
	return append([]string{}, def...)
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	}
	return "", false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case float64:
		return t != 0, true
	}
	return false, false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(math.Round(max(math.MinInt32, min(math.MaxInt32, t)))), true
	case int:
		return t, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return asInt(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%")), 64)
		if err != nil {
			return 0, false
		}
		return asInt(f)
	}
	return 0, false
}

// asList accepts an array or wraps a single value.
func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// asObject returns v as an object. A bare string becomes {key: v}.
func asObject(v any, key string) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, false
		}
		return map[string]any{key: t}, true
	}
	return nil, false
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
