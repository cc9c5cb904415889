package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/uvfleet/uvfleet/pkg/uv"
)

// executor handles command execution over SSH.
type executor struct {
	client *Client
	config *Config
	logger zerolog.Logger
}

// Run executes a command and returns its stdout. It satisfies
// grains.Runner, so remote grain collection rides the same connection as
// everything else.
func (c *Client) Run(ctx context.Context, command string) (string, error) {
	stdout, _, err := c.ExecuteCommand(ctx, command)
	return stdout, err
}

// ExecuteCommand runs a command on the remote host.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	if c.executor == nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("executor not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.executor.execute(ctx, cmd, false, "")
}

// ExecuteCommandWithSudo runs a command with sudo privileges.
func (c *Client) ExecuteCommandWithSudo(ctx context.Context, cmd string, sudoPassword string) (stdout string, stderr string, err error) {
	if c.executor == nil {
		return "", "", &TransportError{
			Op:          "execute-sudo",
			Err:         fmt.Errorf("executor not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.executor.execute(ctx, cmd, true, sudoPassword)
}

// ExecuteUvCommand runs a uv command built by the planner. System-scope
// commands run through sudo; user-scope commands run through sudo as the
// target user so tool environments land in the user's home.
func (c *Client) ExecuteUvCommand(ctx context.Context, cmd *uv.Command) (stdout string, stderr string, err error) {
	if c.executor == nil {
		return "", "", &TransportError{
			Op:          "execute-uv",
			Err:         fmt.Errorf("executor not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	line := RenderUvCommand(cmd)
	if cmd.User != "" {
		// sudo prepends itself; the user switch must come first
		line = fmt.Sprintf("-u %s %s", shellQuote(cmd.User), line)
	}
	return c.executor.execute(ctx, line, true, c.config.SudoPassword)
}

// RenderUvCommand renders a uv command into a shell command line: the
// environment assignments followed by the quoted argument vector.
func RenderUvCommand(cmd *uv.Command) string {
	parts := make([]string, 0, len(cmd.Argv)+len(cmd.Env)+1)
	if env := cmd.EnvList(); len(env) > 0 {
		parts = append(parts, "env")
		for _, kv := range env {
			parts = append(parts, shellQuote(kv))
		}
	}
	for _, arg := range cmd.Argv {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes an argument for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// execute is the internal implementation of command execution. The
// configured command timeout bounds the run when the caller's context
// carries no earlier deadline.
func (e *executor) execute(ctx context.Context, cmd string, useSudo bool, sudoPassword string) (stdout string, stderr string, err error) {
	startTime := time.Now()

	if e.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.CommandTimeout)
		defer cancel()
	}

	e.logger.Debug().
		Str("command", cmd).
		Bool("sudo", useSudo).
		Msg("executing command")

	// Get the SSH client
	sshClient, err := e.client.session()
	if err != nil {
		return "", "", err
	}

	// Create a new session
	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer session.Close()

	// Set up buffers for stdout and stderr
	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	// Prepare the command
	finalCmd := cmd
	if useSudo {
		if sudoPassword != "" {
			// If sudo password is provided, use it via stdin
			finalCmd = fmt.Sprintf("sudo -S %s", cmd)
			session.Stdin = strings.NewReader(sudoPassword + "\n")
		} else {
			// NOPASSWD sudo
			finalCmd = fmt.Sprintf("sudo %s", cmd)
		}
	}

	// Create a channel for command completion
	doneChan := make(chan error, 1)

	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	// Wait for command to complete or timeout
	var execErr error
	select {
	case <-ctx.Done():
		// Context cancelled, try to signal the session
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
		// Command completed
	}

	duration := time.Since(startTime)

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	e.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		// Check if it's an exit error
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			// Command ran but returned non-zero exit code
			return stdout, stderr, &TransportError{
				Op:          "execute",
				Err:         fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
				IsTemporary: false,
				IsAuthError: false,
			}
		}
		// Other error (connection issue, etc.)
		return stdout, stderr, &TransportError{
			Op:          "execute",
			Err:         execErr,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return stdout, stderr, nil
}
