// Package schema validates execution results against expected-result
// templates. A template is a nested map whose leaves are either concrete
// values or type-placeholder tags: <float>, <int>, <string>, <bool>, <list>,
// <map>, <any>.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Placeholder tags accepted at template leaves.
const (
	TagFloat  = "<float>"
	TagInt    = "<int>"
	TagString = "<string>"
	TagBool   = "<bool>"
	TagList   = "<list>"
	TagMap    = "<map>"
	TagAny    = "<any>"
)

// IsPlaceholder reports whether v is a recognized type-placeholder tag.
func IsPlaceholder(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch s {
	case TagFloat, TagInt, TagString, TagBool, TagList, TagMap, TagAny:
		return true
	}
	return false
}

// Validate checks value against template. Every key in the template must be
// present in the value with a matching type; extra keys in the value are
// tolerated (generated code may attach diagnostics).
func Validate(template, value map[string]any) error {
	if len(template) == 0 {
		return nil
	}
	if value == nil {
		return fmt.Errorf("result is nil, want keys %s", keyList(template))
	}
	for key, want := range template {
		got, ok := value[key]
		if !ok {
			return fmt.Errorf("result missing key %q", key)
		}
		if err := validateLeaf(key, want, got); err != nil {
			return err
		}
	}
	return nil
}

func keyList(template map[string]any) string {
	keys := make([]string, 0, len(template))
	for k := range template {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

func validateLeaf(key string, want, got any) error {
	switch w := want.(type) {
	case map[string]any:
		nested, ok := got.(map[string]any)
		if !ok {
			return fmt.Errorf("result key %q: want nested object, got %T", key, got)
		}
		if err := Validate(w, nested); err != nil {
			return fmt.Errorf("result key %q: %w", key, err)
		}
		return nil
	case string:
		if IsPlaceholder(w) {
			return validateTag(key, w, got)
		}
		if s, ok := got.(string); ok && s == w {
			return nil
		}
		return fmt.Errorf("result key %q: want literal %q, got %v", key, w, got)
	default:
		// Concrete non-string leaf: require equality after numeric
		// normalization.
		if normalize(want) == normalize(got) {
			return nil
		}
		return fmt.Errorf("result key %q: want %v, got %v", key, want, got)
	}
}

func validateTag(key, tag string, got any) error {
	switch tag {
	case TagAny:
		return nil
	case TagFloat:
		switch got.(type) {
		case float64, float32, int, int64:
			return nil
		}
	case TagInt:
		switch v := got.(type) {
		case int, int64:
			return nil
		case float64:
			if v == float64(int64(v)) {
				return nil
			}
		}
	case TagString:
		if _, ok := got.(string); ok {
			return nil
		}
	case TagBool:
		if _, ok := got.(bool); ok {
			return nil
		}
	case TagList:
		switch got.(type) {
		case []any, []string, []float64, []int:
			return nil
		}
	case TagMap:
		if _, ok := got.(map[string]any); ok {
			return nil
		}
	}
	return fmt.Errorf("result key %q: want %s, got %T", key, tag, got)
}

// normalize collapses numeric types so 3 and 3.0 compare equal across the
// JSON decode boundary.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

// Describe renders a template as a compact one-line contract for prompts,
// e.g. {mean: <float>, note: <string>}.
func Describe(template map[string]any) string {
	if len(template) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(template))
	for k := range template {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		switch v := template[k].(type) {
		case map[string]any:
			b.WriteString(Describe(v))
		default:
			b.WriteString(fmt.Sprintf("%v", v))
		}
	}
	b.WriteString("}")
	return b.String()
}

// Clone deep-copies a template so suspension records never alias live maps.
func Clone(template map[string]any) map[string]any {
	if template == nil {
		return nil
	}
	out := make(map[string]any, len(template))
	for k, v := range template {
		if nested, ok := v.(map[string]any); ok {
			out[k] = Clone(nested)
			continue
		}
		out[k] = v
	}
	return out
}
