package formula

import (
	"fmt"
)

// Tree is a recursively merged configuration mapping. Values are scalars,
// nested Trees, or []any sequences, as produced by yaml.v3 decoding.
type Tree map[string]any

// MergeOptions controls sequence handling during a merge.
type MergeOptions struct {
	// AppendLists appends override sequences to existing ones instead of
	// replacing them wholesale.
	AppendLists bool
}

// Clone returns a deep copy of the tree. The resolver clones every source
// before merging so callers can hold on to their input documents.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Tree:
		return val.Clone()
	case map[string]any:
		return Tree(val).Clone()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Lookup walks a dotted key path and returns the value at it.
func (t Tree) Lookup(path ...string) (any, bool) {
	var cur any = t
	for _, key := range path {
		m, ok := asTree(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Merge merges src into dst and returns dst. Scalars override, mappings
// merge recursively, sequences replace wholesale unless opts.AppendLists is
// set. A structural conflict between a mapping and a non-mapping value is
// fatal and attributed to source. Booleans are exempt: a bare boolean acts
// as an enable/disable toggle that a structured value may replace (and vice
// versa), which the per-user dotconfig and uv keys rely on.
func Merge(dst, src Tree, source string, opts MergeOptions) (Tree, error) {
	if dst == nil {
		dst = Tree{}
	}
	for key, sv := range src {
		dv, exists := dst[key]
		merged, err := mergeValue(dv, exists, sv, source, key, opts)
		if err != nil {
			return nil, err
		}
		dst[key] = merged
	}
	return dst, nil
}

func mergeValue(dv any, exists bool, sv any, source, path string, opts MergeOptions) (any, error) {
	if !exists || dv == nil {
		return cloneValue(sv), nil
	}

	dstMap, dstIsMap := asTree(dv)
	srcMap, srcIsMap := asTree(sv)

	switch {
	case dstIsMap && srcIsMap:
		for key, v := range srcMap {
			child, childExists := dstMap[key]
			merged, err := mergeValue(child, childExists, v, source, path+"."+key, opts)
			if err != nil {
				return nil, err
			}
			dstMap[key] = merged
		}
		return dstMap, nil

	case dstIsMap != srcIsMap:
		// Booleans may toggle structured values off and structured values
		// may replace a bare boolean.
		if _, ok := dv.(bool); ok {
			return cloneValue(sv), nil
		}
		if _, ok := sv.(bool); ok {
			return sv, nil
		}
		return nil, &TypeConflictError{
			Source:   source,
			Path:     path,
			Existing: kindOf(dv),
			Incoming: kindOf(sv),
		}

	default:
		if srcList, ok := sv.([]any); ok && opts.AppendLists {
			if dstList, ok := dv.([]any); ok {
				return append(dstList, cloneValue(srcList).([]any)...), nil
			}
		}
		return cloneValue(sv), nil
	}
}

// asTree normalizes the two mapping shapes yaml.v3 and callers produce.
func asTree(v any) (Tree, bool) {
	switch m := v.(type) {
	case Tree:
		return m, true
	case map[string]any:
		return Tree(m), true
	default:
		return nil, false
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case Tree, map[string]any:
		return "mapping"
	case []any:
		return "sequence"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("scalar (%T)", v)
	}
}
