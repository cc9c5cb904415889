// Package ssh provides the SSH transport uvfleet uses to manage remote
// machines: grain collection, uv command execution, and SFTP-based file and
// dotfile delivery.
package ssh

import (
	"context"
	"time"

	"github.com/uvfleet/uvfleet/pkg/state"
	"github.com/uvfleet/uvfleet/pkg/uv"
)

// Transport defines the remote operations a managed machine supports.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases all resources.
	Disconnect() error

	// IsConnected reports whether the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// Run executes a command on the remote host and returns its stdout.
	// It satisfies grains.Runner so remote grain collection can reuse the
	// connection.
	Run(ctx context.Context, command string) (string, error)

	// ExecuteCommand runs a command on the remote host, returning stdout
	// and stderr.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// ExecuteCommandWithSudo runs a command with sudo privileges. The
	// password can be empty when NOPASSWD is configured.
	ExecuteCommandWithSudo(ctx context.Context, cmd string, sudoPassword string) (stdout string, stderr string, err error)

	// ExecuteUvCommand runs a rendered uv command, switching to the
	// target user for user-scope operations.
	ExecuteUvCommand(ctx context.Context, cmd *uv.Command) (stdout string, stderr string, err error)

	// WriteFile writes in-memory content to a remote path via SFTP.
	WriteFile(ctx context.Context, remotePath string, content []byte, mode uint32) error

	// SetFilePermissions sets file permissions on the remote host.
	SetFilePermissions(ctx context.Context, remotePath string, mode uint32) error

	// SetFileOwnership sets file ownership on the remote host. Requires
	// sudo privileges.
	SetFileOwnership(ctx context.Context, remotePath string, owner string, group string) error

	// SyncDotfiles copies a user's dotfiles from the first existing
	// source candidate to the remote destination directory.
	SyncDotfiles(ctx context.Context, src *state.DotfileSource, owner string, group string) error

	// GetConnectionInfo returns details about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo describes an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port number.
	Port int

	// User is the SSH username.
	User string

	// ConnectedAt is when the connection was established.
	ConnectedAt time.Time

	// LastActivity is when the connection was last used.
	LastActivity time.Time
}

// TransportError is an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (connect, exec, upload, ...).
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary marks errors worth retrying.
	IsTemporary bool

	// IsAuthError marks authentication failures.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
