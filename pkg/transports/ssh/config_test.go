package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// writeTestKey writes a fresh ed25519 private key and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return keyPath
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("example.com", "deploy")

	if config.Host != "example.com" {
		t.Errorf("expected host 'example.com', got '%s'", config.Host)
	}
	if config.User != "deploy" {
		t.Errorf("expected user 'deploy', got '%s'", config.User)
	}
	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}
	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth by default, got %s", config.AuthMethod)
	}
	if !config.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
	if config.CommandTimeout != 10*time.Minute {
		t.Errorf("expected 10m command timeout, got %s", config.CommandTimeout)
	}
	if config.KeepAliveInterval != 0 {
		t.Errorf("expected keep-alive disabled by default, got %s", config.KeepAliveInterval)
	}
}

func TestConfigValidate(t *testing.T) {
	keyPath := writeTestKey(t)

	valid := func() *Config {
		c := DefaultConfig("example.com", "deploy")
		c.PrivateKeyPath = keyPath
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid key auth", func(c *Config) {}, false},
		{"valid password auth", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
			c.Password = "secret"
		}, false},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"missing user", func(c *Config) { c.User = "" }, true},
		{"port too low", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"password auth without password", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
		}, true},
		{"key file missing", func(c *Config) {
			c.PrivateKeyPath = "/nonexistent/key"
		}, true},
		{"unknown auth method", func(c *Config) {
			c.AuthMethod = AuthMethod("kerberos")
		}, true},
		{"zero connection timeout", func(c *Config) {
			c.ConnectionTimeout = 0
		}, true},
		{"zero command timeout", func(c *Config) {
			c.CommandTimeout = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("key auth", func(t *testing.T) {
		config := DefaultConfig("example.com", "deploy")
		config.PrivateKeyPath = writeTestKey(t)
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("BuildSSHClientConfig() failed: %v", err)
		}
		if clientConfig.User != "deploy" {
			t.Errorf("expected user 'deploy', got '%s'", clientConfig.User)
		}
		if len(clientConfig.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
		}
		if clientConfig.Timeout != config.ConnectionTimeout {
			t.Errorf("expected timeout %s, got %s", config.ConnectionTimeout, clientConfig.Timeout)
		}
	})

	t.Run("password auth includes keyboard-interactive", func(t *testing.T) {
		config := DefaultConfig("example.com", "deploy")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("BuildSSHClientConfig() failed: %v", err)
		}
		if len(clientConfig.Auth) != 2 {
			t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
		}
	})

	t.Run("missing known_hosts is an error under strict checking", func(t *testing.T) {
		config := DefaultConfig("example.com", "deploy")
		config.PrivateKeyPath = writeTestKey(t)
		config.KnownHostsPath = "/nonexistent/known_hosts"
		config.StrictHostKeyChecking = true

		if _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected error for missing known_hosts file")
		}
	})
}

func TestConfigAddress(t *testing.T) {
	config := DefaultConfig("example.com", "deploy")
	if got := config.Address(); got != "example.com:22" {
		t.Errorf("Address() = %q, want %q", got, "example.com:22")
	}

	config.Port = 2222
	if got := config.Address(); got != "example.com:2222" {
		t.Errorf("Address() = %q, want %q", got, "example.com:2222")
	}
}
