package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Render substitutes parameters into the template and returns the resulting
// graph.
//
// Substitution is textual over the template JSON and replaces whole quoted
// placeholders only:
//   - bool:   "{{FLAG}}"  -> true / false (unquoted)
//   - number: "{{SEED}}"  -> 42 (unquoted, numbers stay numbers)
//   - string: "{{NAME}}"  -> "escaped value" (JSON-escaped)
//   - other:  "{{X}}"     -> quoted fmt rendering
//
// Parameters without a matching placeholder are ignored; engine graph
// families share parameter sets and not every graph uses every key. Any
// placeholder left after substitution is an error, as is a graph that no
// longer parses as JSON.
func (t *Template) Render(params map[string]any) (map[string]any, error) {
	text := string(t.Raw)

	for _, key := range sortedParamKeys(params) {
		quoted := `"{{` + key + `}}"`
		text = strings.ReplaceAll(text, quoted, renderValue(params[key]))
	}

	if remaining := placeholderPattern.FindAllString(text, -1); len(remaining) > 0 {
		seen := make(map[string]struct{}, len(remaining))
		var names []string
		for _, r := range remaining {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			names = append(names, r)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: %s", ErrUnboundPlaceholder, strings.Join(names, ", "))
	}

	var graph map[string]any
	if err := json.Unmarshal([]byte(text), &graph); err != nil {
		return nil, fmt.Errorf("%w: %s: graph does not parse after substitution: %v", ErrInvalidGraph, t.Name, err)
	}
	if err := Validate(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

// renderValue produces the JSON fragment replacing one quoted placeholder.
func renderValue(v any) string {
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val)
	case string:
		return encodeJSONString(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return encodeJSONString(fmt.Sprintf("%v", val))
	}
}

func encodeJSONString(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		// json.Marshal of a string cannot fail; keep the fallback anyway.
		return strconv.Quote(s)
	}
	return string(data)
}

func sortedParamKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
