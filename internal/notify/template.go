package notify

import (
	"encoding/json"
	"regexp"
)

// Templates are value substitution only: {name}-style placeholders replaced
// from the variable map, missing keys becoming the empty string. No
// expression evaluation of any kind.

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// RenderString substitutes placeholders in a flat string template.
func RenderString(tpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		key := match[1 : len(match)-1]
		return vars[key]
	})
}

// RenderJSON walks a JSON template tree substituting placeholders in leaf
// strings. Non-string leaves pass through untouched.
func RenderJSON(raw json.RawMessage, vars map[string]string) (any, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return renderTree(tree, vars), nil
}

func renderTree(node any, vars map[string]string) any {
	switch v := node.(type) {
	case string:
		return RenderString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = renderTree(child, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = renderTree(child, vars)
		}
		return out
	default:
		return v
	}
}
