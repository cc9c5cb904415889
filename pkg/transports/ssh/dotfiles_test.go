package ssh

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFirstExistingDir(t *testing.T) {
	tmpDir := t.TempDir()
	existing := filepath.Join(tmpDir, "minion1")
	if err := os.MkdirAll(existing, 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(tmpDir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{
			name:       "first existing wins",
			candidates: []string{filepath.Join(tmpDir, "missing"), existing, tmpDir},
			want:       existing,
		},
		{
			name:       "files do not count",
			candidates: []string{file, existing},
			want:       existing,
		},
		{
			name:       "none existing",
			candidates: []string{filepath.Join(tmpDir, "a"), filepath.Join(tmpDir, "b")},
			want:       "",
		},
		{
			name:       "empty candidates",
			candidates: nil,
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstExistingDir(tt.candidates); got != tt.want {
				t.Errorf("firstExistingDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFileMode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    uint32
		wantErr bool
	}{
		{"empty means no override", "", 0, false},
		{"regular file mode", "0644", 0o644, false},
		{"executable", "0755", 0o755, false},
		{"without leading zero", "644", 0o644, false},
		{"not octal", "abc", 0, true},
		{"digit out of range", "0698", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFileMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFileMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseFileMode(%q) = %o, want %o", tt.in, got, tt.want)
			}
		})
	}
}

func TestLocalFileSet(t *testing.T) {
	tmpDir := t.TempDir()
	paths := []string{
		"uv.toml",
		filepath.Join("themes", "dark.toml"),
	}
	for _, p := range paths {
		full := filepath.Join(tmpDir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := localFileSet(tmpDir)
	if err != nil {
		t.Fatalf("localFileSet() failed: %v", err)
	}

	if len(files) != len(paths) {
		t.Errorf("expected %d files, got %d", len(paths), len(files))
	}
	for _, p := range paths {
		if !files[p] {
			t.Errorf("expected %s in file set", p)
		}
	}
	if files["themes"] {
		t.Error("directories should not appear in the file set")
	}
}
