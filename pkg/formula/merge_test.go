package formula

import (
	"errors"
	"reflect"
	"testing"
)

func TestMerge_ScalarOverride(t *testing.T) {
	dst := Tree{"version": "latest", "install_method": "releases"}
	src := Tree{"version": "0.5.0"}

	got, err := Merge(dst, src, "pillar", MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["version"] != "0.5.0" {
		t.Errorf("version = %v, want 0.5.0", got["version"])
	}
	if got["install_method"] != "releases" {
		t.Errorf("install_method = %v, want releases (untouched)", got["install_method"])
	}
}

func TestMerge_MappingsMergeRecursively(t *testing.T) {
	dst := Tree{
		"config": Tree{"native-tls": true, "index": Tree{"url": "https://pypi.org/simple"}},
	}
	src := Tree{
		"config": Tree{"index": Tree{"default": true}},
	}

	got, err := Merge(dst, src, "pillar", MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	index, ok := got.Lookup("config", "index")
	if !ok {
		t.Fatal("config.index missing after merge")
	}
	m, _ := asTree(index)
	if m["url"] != "https://pypi.org/simple" {
		t.Errorf("config.index.url = %v, want preserved value", m["url"])
	}
	if m["default"] != true {
		t.Errorf("config.index.default = %v, want true", m["default"])
	}
	if v, _ := got.Lookup("config", "native-tls"); v != true {
		t.Errorf("config.native-tls = %v, want true", v)
	}
}

func TestMerge_ListsReplaceWholesale(t *testing.T) {
	dst := Tree{"extras": []any{"a", "b"}}
	src := Tree{"extras": []any{"c"}}

	got, err := Merge(dst, src, "pillar", MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got["extras"], []any{"c"}) {
		t.Errorf("extras = %v, want [c]", got["extras"])
	}
}

func TestMerge_ListsAppendWhenRequested(t *testing.T) {
	dst := Tree{"extras": []any{"a", "b"}}
	src := Tree{"extras": []any{"c"}}

	got, err := Merge(dst, src, "pillar", MergeOptions{AppendLists: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got["extras"], []any{"a", "b", "c"}) {
		t.Errorf("extras = %v, want [a b c]", got["extras"])
	}
}

func TestMerge_TypeConflictNamesSourceAndPath(t *testing.T) {
	dst := Tree{"tools": Tree{"ruff": Tree{"version_spec": ">=0.4"}}}
	src := Tree{"tools": Tree{"ruff": []any{"oops"}}}

	_, err := Merge(dst, src, "parameters/os_family/Debian.yaml", MergeOptions{})
	if err == nil {
		t.Fatal("expected a type conflict")
	}

	var conflict *TypeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error is %T, want *TypeConflictError", err)
	}
	if conflict.Source != "parameters/os_family/Debian.yaml" {
		t.Errorf("conflict source = %q, want the offending document", conflict.Source)
	}
	if conflict.Path != "tools.ruff" {
		t.Errorf("conflict path = %q, want tools.ruff", conflict.Path)
	}
}

func TestMerge_BooleanTogglesStructuredValues(t *testing.T) {
	tests := []struct {
		name string
		dst  Tree
		src  Tree
		want any
	}{
		{
			name: "mapping replaces boolean",
			dst:  Tree{"dotconfig": false},
			src:  Tree{"dotconfig": Tree{"clean": true}},
			want: Tree{"clean": true},
		},
		{
			name: "boolean disables mapping",
			dst:  Tree{"dotconfig": Tree{"clean": true}},
			src:  Tree{"dotconfig": false},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.dst, tt.src, "pillar", MergeOptions{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got["dotconfig"], tt.want) {
				t.Errorf("dotconfig = %v, want %v", got["dotconfig"], tt.want)
			}
		})
	}
}

func TestMerge_DoesNotAliasSource(t *testing.T) {
	src := Tree{"config": Tree{"offline": true}}
	got, err := Merge(Tree{}, src, "pillar", MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, _ := asTree(got["config"])
	m["offline"] = false

	if v, _ := src.Lookup("config", "offline"); v != true {
		t.Error("merge aliased the source document")
	}
}

func TestMerge_OrderMattersOnlyOnConflict(t *testing.T) {
	a := Tree{"version": "0.5.0"}
	b := Tree{"config": Tree{"offline": true}}

	ab, err := Merge(Merge2(t, Tree{}, a), b, "b", MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ba, err := Merge(Merge2(t, Tree{}, b), a, "a", MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ab, ba) {
		t.Error("non-conflicting sources should merge order-independently")
	}

	c := Tree{"version": "0.6.0"}
	ac, _ := Merge(Merge2(t, Tree{}, a), c, "c", MergeOptions{})
	ca, _ := Merge(Merge2(t, Tree{}, c), a, "a", MergeOptions{})
	if reflect.DeepEqual(ac, ca) {
		t.Error("conflicting sources must be order-sensitive")
	}
}

// Merge2 is a test helper that merges and fails the test on error.
func Merge2(t *testing.T, dst, src Tree) Tree {
	t.Helper()
	out, err := Merge(dst, src, "test", MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}
