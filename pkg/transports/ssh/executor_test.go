package ssh

import (
	"context"
	"errors"
	"testing"

	"github.com/uvfleet/uvfleet/pkg/uv"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ruff", "ruff"},
		{"version spec", "ruff==0.4.0", "ruff==0.4.0"},
		{"path", "/home/alice/.local/bin", "/home/alice/.local/bin"},
		{"empty", "", "''"},
		{"space", "two words", "'two words'"},
		{"single quote", "it's", `'it'\''s'`},
		{"shell metachars", "a;b", "'a;b'"},
		{"glob", "*.py", "'*.py'"},
		{"dollar", "$HOME", "'$HOME'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shellQuote(tt.in); got != tt.want {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderUvCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  uv.Command
		want string
	}{
		{
			name: "bare argv",
			cmd:  uv.Command{Argv: []string{"uv", "tool", "list"}},
			want: "uv tool list",
		},
		{
			name: "env prefix sorted",
			cmd: uv.Command{
				Argv: []string{"uv", "tool", "install", "ruff==0.4.0"},
				Env: map[string]string{
					"UV_TOOL_DIR":     "/opt/uv/tools",
					"UV_TOOL_BIN_DIR": "/usr/local/bin",
				},
			},
			want: "env UV_TOOL_BIN_DIR=/usr/local/bin UV_TOOL_DIR=/opt/uv/tools uv tool install ruff==0.4.0",
		},
		{
			name: "argument needing quotes",
			cmd:  uv.Command{Argv: []string{"uv", "tool", "install", "ruff", "--with", "requests >=2"}},
			want: "uv tool install ruff --with 'requests >=2'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderUvCommand(&tt.cmd); got != tt.want {
				t.Errorf("RenderUvCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecuteCommand(t *testing.T) {
	srv := startFakeServer(t)
	client := connectedClient(t, srv)
	ctx := context.Background()

	t.Run("successful command", func(t *testing.T) {
		stdout, stderr, err := client.ExecuteCommand(ctx, "echo test")
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if stdout != "test" {
			t.Errorf("expected stdout 'test', got '%s'", stdout)
		}
		if stderr != "" {
			t.Errorf("expected empty stderr, got '%s'", stderr)
		}
	})

	t.Run("command with stderr", func(t *testing.T) {
		stdout, stderr, err := client.ExecuteCommand(ctx, "echo error >&2")
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if stdout != "" {
			t.Errorf("expected empty stdout, got '%s'", stdout)
		}
		if stderr != "error" {
			t.Errorf("expected stderr 'error', got '%s'", stderr)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		_, stderr, err := client.ExecuteCommand(ctx, "exit 1")
		if err == nil {
			t.Fatal("expected error for non-zero exit")
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("expected *TransportError, got %T", err)
		}
		if transportErr.Temporary() {
			t.Error("exit errors should not be temporary")
		}
		if stderr != "boom" {
			t.Errorf("expected stderr 'boom', got '%s'", stderr)
		}
	})
}

func TestExecuteUvCommand(t *testing.T) {
	srv := startFakeServer(t)
	client := connectedClient(t, srv)
	ctx := context.Background()

	// The fake server echoes unknown commands back, which lets us assert
	// on the exact command line sent over the wire.
	t.Run("system scope runs under sudo", func(t *testing.T) {
		cmd := uv.Command{Argv: []string{"uv", "tool", "list"}}
		stdout, _, err := client.ExecuteUvCommand(ctx, &cmd)
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		want := "command: sudo uv tool list"
		if stdout != want {
			t.Errorf("got %q, want %q", stdout, want)
		}
	})

	t.Run("user scope switches user before the env prefix", func(t *testing.T) {
		cmd := uv.Command{
			Argv: []string{"uv", "tool", "install", "ruff==0.4.0"},
			Env:  map[string]string{"UV_TOOL_BIN_DIR": "/home/alice/.local/bin"},
			User: "alice",
		}
		stdout, _, err := client.ExecuteUvCommand(ctx, &cmd)
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		want := "command: sudo -u alice env UV_TOOL_BIN_DIR=/home/alice/.local/bin uv tool install ruff==0.4.0"
		if stdout != want {
			t.Errorf("got %q, want %q", stdout, want)
		}
	})
}

func TestTransportError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{Op: "connect", Err: inner, IsTemporary: true}

	if err.Error() != "connect: connection refused" {
		t.Errorf("unexpected Error(): %s", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose the inner error")
	}
	if !err.Temporary() {
		t.Error("expected Temporary() to be true")
	}
}
