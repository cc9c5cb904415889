package formula

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults returns a fresh copy of the formula's built-in defaults. The
// embedded document is the lowest-precedence source of every resolution.
func Defaults() (Tree, error) {
	var tree Tree
	if err := yaml.Unmarshal(defaultsYAML, &tree); err != nil {
		return nil, fmt.Errorf("embedded defaults are malformed: %w", err)
	}
	return normalizeTree(tree), nil
}

// normalizeTree rewrites nested map[string]any values as Tree so the merge
// engine sees one mapping shape throughout.
func normalizeTree(t Tree) Tree {
	for k, v := range t {
		t[k] = normalizeValue(v)
	}
	return t
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeTree(Tree(val))
	case Tree:
		return normalizeTree(val)
	case []any:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	default:
		return v
	}
}
