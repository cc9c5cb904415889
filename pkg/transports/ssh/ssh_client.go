package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is the SSH implementation of Transport: one connection per
// managed machine, shared by command execution and file transfer.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu         sync.RWMutex
	conn       *ssh.Client
	connected  bool
	since      time.Time
	lastActive time.Time

	executor     *executor
	fileTransfer *fileTransfer
}

var _ Transport = (*Client)(nil)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used by the transport.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "ssh-transport").Logger()
	}
}

// NewClient creates an SSH transport client for a validated config.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := &Client{
		config: config,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Connect establishes the SSH connection. Connecting while already
// connected verifies the existing connection and reuses it when alive.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.conn != nil {
		if err := c.ping(); err == nil {
			return nil
		}
		c.logger.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		_ = c.conn.Close()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	conn, err := dial(ctx, c.config.Address(), clientConfig)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	c.conn = conn
	c.connected = true
	c.since = time.Now()
	c.lastActive = c.since
	c.executor = &executor{client: c, config: c.config, logger: c.logger}
	c.fileTransfer = &fileTransfer{client: c, config: c.config, logger: c.logger}

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive()
	}

	c.logger.Info().Str("address", c.config.Address()).Msg("SSH connection established")
	return nil
}

// dial opens the TCP+SSH connection, honoring context cancellation. The
// ssh package dials synchronously, so the dial runs in a goroutine and
// the first of connection, error, or cancellation wins.
func dial(ctx context.Context, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		conn *ssh.Client
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ssh.Dial("tcp", address, config)
		ch <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// Disconnect closes the connection and releases all resources.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return nil
	}

	c.logger.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	err := c.conn.Close()
	c.conn = nil
	c.connected = false

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected reports whether the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.conn == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.ping()
}

// ping runs a trivial command over a fresh session. Callers hold the lock.
func (c *Client) ping() error {
	session, err := c.conn.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

// keepAlive probes the connection until it drops or too many probes fail.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	misses := 0
	for range ticker.C {
		c.mu.RLock()
		alive := c.connected && c.conn != nil
		c.mu.RUnlock()
		if !alive {
			return
		}

		if _, _, err := c.conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			misses++
			c.logger.Warn().Err(err).Int("misses", misses).Msg("keep-alive failed")
			if misses >= c.config.MaxKeepAliveRetries {
				c.logger.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}

		misses = 0
		c.mu.Lock()
		c.lastActive = time.Now()
		c.mu.Unlock()
	}
}

// GetConnectionInfo returns details about the current connection.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.since,
		LastActivity: c.lastActive,
	}
}

// session returns the live SSH client for the executor and file transfer,
// stamping the activity time.
func (c *Client) session() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	c.lastActive = time.Now()
	return c.conn, nil
}
