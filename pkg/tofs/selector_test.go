package tofs

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestCandidates_FullContext(t *testing.T) {
	ctx := Context{
		MinionID: "node1",
		OSFamily: "Debian",
		Roles:    []string{"web"},
		Users:    []string{"alice"},
	}

	got := Paths(ctx, "dotconfig", "uv")
	want := []string{
		"dotconfig/node1/alice/uv",
		"dotconfig/node1/uv",
		"dotconfig/web/alice/uv",
		"dotconfig/Debian/alice/uv",
		"dotconfig/web/uv",
		"dotconfig/Debian/uv",
		"dotconfig/default/alice/uv",
		"dotconfig/default/uv",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("candidate order mismatch:\ngot  %v\nwant %v", got, want)
	}
}

func TestCandidates_NoUserContext(t *testing.T) {
	ctx := Context{
		MinionID: "node1",
		OSFamily: "Debian",
		Roles:    []string{"web"},
	}

	got := Paths(ctx, "dotconfig", "uv")
	want := []string{
		"dotconfig/node1/uv",
		"dotconfig/web/uv",
		"dotconfig/Debian/uv",
		"dotconfig/default/uv",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("candidate order mismatch:\ngot  %v\nwant %v", got, want)
	}
}

func TestCandidates_MultipleRolesPreserveDeclarationOrder(t *testing.T) {
	ctx := Context{
		MinionID: "node1",
		OSFamily: "Debian",
		Roles:    []string{"web", "db"},
	}

	got := Paths(ctx, "files", "uv")
	want := []string{
		"files/node1/uv",
		"files/web/uv",
		"files/db/uv",
		"files/Debian/uv",
		"files/default/uv",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("candidate order mismatch:\ngot  %v\nwant %v", got, want)
	}
}

func TestCandidates_MultipleUsers(t *testing.T) {
	ctx := Context{
		MinionID: "node1",
		OSFamily: "Debian",
		Users:    []string{"alice", "bob"},
	}

	got := Paths(ctx, "dotconfig", "uv")
	want := []string{
		"dotconfig/node1/alice/uv",
		"dotconfig/node1/bob/uv",
		"dotconfig/node1/uv",
		"dotconfig/Debian/alice/uv",
		"dotconfig/Debian/bob/uv",
		"dotconfig/Debian/uv",
		"dotconfig/default/alice/uv",
		"dotconfig/default/bob/uv",
		"dotconfig/default/uv",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("candidate order mismatch:\ngot  %v\nwant %v", got, want)
	}
}

func TestCandidates_Deterministic(t *testing.T) {
	ctx := Context{
		MinionID: "node1",
		OSFamily: "RedHat",
		Roles:    []string{"db", "cache"},
		Users:    []string{"alice"},
	}

	first := Paths(ctx, "dotconfig", "uv")
	second := Paths(ctx, "dotconfig", "uv")
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different candidate lists")
	}
}

func TestSelect_FirstExistingWins(t *testing.T) {
	ctx := Context{
		MinionID: "node1",
		OSFamily: "Debian",
		Users:    []string{"alice"},
	}

	existing := map[string]bool{
		"dotconfig/Debian/uv":        true,
		"dotconfig/default/alice/uv": true,
	}

	c, ok := Select(ctx, "dotconfig", "uv", func(p string) bool { return existing[p] })
	if !ok {
		t.Fatal("expected a candidate to be selected")
	}
	if c.Path != "dotconfig/Debian/uv" {
		t.Errorf("selected %q, want dotconfig/Debian/uv", c.Path)
	}
	if c.Scope != "Debian" || c.User != "" {
		t.Errorf("unexpected candidate metadata: %+v", c)
	}
}

func TestSelect_Exhausted(t *testing.T) {
	ctx := Context{MinionID: "node1", OSFamily: "Debian"}

	_, ok := Select(ctx, "dotconfig", "uv", func(string) bool { return false })
	if ok {
		t.Error("expected no candidate when nothing exists")
	}
}

func TestSelectFS(t *testing.T) {
	fsys := fstest.MapFS{
		"dotconfig/default/uv/config.toml":  {Data: []byte("")},
		"dotconfig/node1/alice/uv/settings": {Data: []byte("")},
	}

	ctx := Context{
		MinionID: "node1",
		OSFamily: "Debian",
		Users:    []string{"alice"},
	}

	c, ok := SelectFS(ctx, "dotconfig", "uv", fsys)
	if !ok {
		t.Fatal("expected a candidate to be selected")
	}
	if c.Path != "dotconfig/node1/alice/uv" {
		t.Errorf("selected %q, want dotconfig/node1/alice/uv", c.Path)
	}
}
