package formula

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// HookEvaluator runs the optional Starlark post-map hook. The script gets
// the merged tree as the predeclared value `tree`; it may mutate it in
// place or assign a global `tree` to replace it. Other globals are ignored.
type HookEvaluator struct {
	timeout time.Duration
}

// NewHookEvaluator creates a hook evaluator. A zero timeout selects the
// default of 10 seconds.
func NewHookEvaluator(timeout time.Duration) *HookEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HookEvaluator{timeout: timeout}
}

// Apply runs the script against the tree and returns the post-processed
// tree. The input tree is not mutated.
func (h *HookEvaluator) Apply(ctx context.Context, script string, tree Tree) (Tree, error) {
	evalCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resultCh := make(chan Tree, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := h.applySync(script, tree.Clone())
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("hook execution timeout after %v", h.timeout)
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

func (h *HookEvaluator) applySync(script string, tree Tree) (Tree, error) {
	thread := &starlark.Thread{
		Name: "postmap",
		Print: func(_ *starlark.Thread, _ string) {
			// Hook output is not a logging channel.
		},
	}

	input, err := toStarlarkValue(map[string]any(tree))
	if err != nil {
		return nil, fmt.Errorf("failed to convert tree for hook: %w", err)
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"tree":   input,
	}

	globals, err := starlark.ExecFile(thread, "map.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("hook execution failed: %w", err)
	}

	// Scripts either assign a fresh global tree or mutate the predeclared
	// one in place; the global wins when both happen.
	out, ok := globals["tree"]
	if !ok {
		out = input
	}

	converted, err := fromStarlarkValue(out)
	if err != nil {
		return nil, fmt.Errorf("failed to convert hook output: %w", err)
	}
	result, isMap := asTree(converted)
	if !isMap {
		return nil, fmt.Errorf("hook produced %s, expected a mapping", kindOf(converted))
	}
	return normalizeTree(result), nil
}

// toStarlarkValue converts a Go value into its Starlark equivalent.
func toStarlarkValue(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		items := make([]starlark.Value, len(val))
		for i, item := range val {
			conv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = conv
		}
		return starlark.NewList(items), nil
	case Tree:
		return toStarlarkValue(map[string]any(val))
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for key, item := range val {
			conv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// fromStarlarkValue converts a Starlark value back into a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer out of range: %s", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		items := make([]any, 0, val.Len())
		iter := val.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			conv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, conv)
		}
		return items, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, key := range val.Keys() {
			str, ok := key.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("mapping keys must be strings, got %s", key.Type())
			}
			item, _, err := val.Get(key)
			if err != nil {
				return nil, err
			}
			conv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			out[string(str)] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", v.Type())
	}
}
