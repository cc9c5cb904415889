package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the transport authenticates.
type AuthMethod string

const (
	// AuthMethodPassword authenticates with a password.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey authenticates with a private key.
	AuthMethodKey AuthMethod = "key"
)

// defaultKeyNames are tried, in order, when no private key is configured.
var defaultKeyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// Config holds the SSH connection settings for one managed machine.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port.
	Port int

	// User is the SSH username.
	User string

	// AuthMethod selects password or key authentication.
	AuthMethod AuthMethod

	// Password authenticates when AuthMethod is password.
	Password string

	// PrivateKeyPath points at the private key file. Empty falls back
	// to the usual keys under ~/.ssh.
	PrivateKeyPath string

	// PrivateKeyPassphrase decrypts an encrypted private key.
	PrivateKeyPassphrase string

	// KnownHostsPath is the known_hosts file used to verify host keys.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	// Disabling it accepts any host key.
	StrictHostKeyChecking bool

	// SudoPassword is fed to sudo for privileged items. Empty assumes
	// NOPASSWD.
	SudoPassword string

	// ConnectionTimeout bounds connection establishment.
	ConnectionTimeout time.Duration

	// CommandTimeout bounds each remote command.
	CommandTimeout time.Duration

	// KeepAliveInterval spaces keep-alive probes. Zero disables them.
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries is how many probes may fail in a row before
	// the connection is considered dead.
	MaxKeepAliveRetries int
}

// DefaultConfig returns a Config with sensible defaults. Tool installs can
// resolve large dependency trees, so the command timeout is generous.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        10 * time.Minute,
		MaxKeepAliveRetries:   3,
	}
}

// Validate checks the configuration, filling in a default private key when
// key auth is selected without one.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	return c.validateAuth()
}

func (c *Config) validateAuth() error {
	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
		return nil

	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = discoverPrivateKey()
		}
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key authentication and no default key found")
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}

// discoverPrivateKey returns the first default key present under ~/.ssh.
func discoverPrivateKey() string {
	sshDir := filepath.Join(os.Getenv("HOME"), ".ssh")
	for _, name := range defaultKeyNames {
		path := filepath.Join(sshDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// BuildSSHClientConfig translates the Config into an ssh.ClientConfig.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Many sshd configurations present the password prompt through
		// keyboard-interactive, so both methods answer with the same
		// password.
		return []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		}, nil

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHostsPath == "" || !c.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return callback, nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
