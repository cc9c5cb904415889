package uv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testIndex(t *testing.T, body string) *Index {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pypi/copier/json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewIndex(WithEndpoint(srv.URL + "/pypi/%s/json"))
}

const copierMetadata = `{
	"info": {"version": "9.3.1"},
	"releases": {
		"8.0.0": [],
		"9.2.0": [],
		"9.3.1": [],
		"10.0.0a1": [],
		"9.4.0.dev0": []
	}
}`

func TestIndex_LatestVersion(t *testing.T) {
	idx := testIndex(t, copierMetadata)

	got, err := idx.LatestVersion(context.Background(), "copier", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "9.3.1" {
		t.Errorf("latest = %q, want info.version", got)
	}
}

func TestIndex_LatestVersionWithSpec(t *testing.T) {
	idx := testIndex(t, copierMetadata)

	// Pre-releases and dev releases never satisfy a spec.
	got, err := idx.LatestVersion(context.Background(), "copier", "<10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "9.3.1" {
		t.Errorf("latest = %q, want 9.3.1", got)
	}

	got, err = idx.LatestVersion(context.Background(), "copier", "<9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "8.0.0" {
		t.Errorf("latest = %q, want 8.0.0", got)
	}

	if _, err := idx.LatestVersion(context.Background(), "copier", ">100"); err == nil {
		t.Error("expected an error when no release satisfies the spec")
	}
}

func TestIndex_LatestVersionNotFound(t *testing.T) {
	idx := testIndex(t, copierMetadata)
	if _, err := idx.LatestVersion(context.Background(), "missing", ""); err == nil {
		t.Error("expected an error for an unknown package")
	}
}

func TestIndex_Outdated(t *testing.T) {
	idx := testIndex(t, copierMetadata)

	outdated, current, latest, err := idx.Outdated(context.Background(),
		InstalledTool{Name: "copier", Version: "9.2.0"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outdated || current != "9.2.0" || latest != "9.3.1" {
		t.Errorf("Outdated() = %v, %q, %q", outdated, current, latest)
	}

	outdated, _, _, err = idx.Outdated(context.Background(),
		InstalledTool{Name: "copier", Version: "9.3.1"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outdated {
		t.Error("up-to-date tool reported as outdated")
	}
}
