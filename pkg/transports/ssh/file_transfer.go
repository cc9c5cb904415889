package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
)

// fileTransfer handles file transfer operations via SFTP.
type fileTransfer struct {
	client *Client
	config *Config
	logger zerolog.Logger
}

// WriteFile writes in-memory content to a remote path via SFTP. Config
// files are rendered on the controller and never touch the local disk.
func (c *Client) WriteFile(ctx context.Context, remotePath string, content []byte, mode uint32) error {
	if c.fileTransfer == nil {
		return &TransportError{
			Op:          "write",
			Err:         fmt.Errorf("file transfer not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.writeFile(ctx, remotePath, content, mode)
}

// SetFilePermissions sets file permissions on the remote host.
func (c *Client) SetFilePermissions(ctx context.Context, remotePath string, mode uint32) error {
	if c.fileTransfer == nil {
		return &TransportError{
			Op:          "chmod",
			Err:         fmt.Errorf("file transfer not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.setPermissions(ctx, remotePath, mode)
}

// SetFileOwnership sets file ownership on the remote host.
func (c *Client) SetFileOwnership(ctx context.Context, remotePath string, owner string, group string) error {
	if c.fileTransfer == nil {
		return &TransportError{
			Op:          "chown",
			Err:         fmt.Errorf("file transfer not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return c.fileTransfer.setOwnership(ctx, remotePath, owner, group)
}

// createSFTPClient creates a new SFTP client.
func (f *fileTransfer) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := f.client.session()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return sftpClient, nil
}

// uploadFile uploads a single file to the remote host.
func (f *fileTransfer) uploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to open local file: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	defer localFile.Close()

	return f.uploadStream(ctx, localFile, localPath, remotePath, mode)
}

// writeFile writes in-memory content to a remote path.
func (f *fileTransfer) writeFile(ctx context.Context, remotePath string, content []byte, mode uint32) error {
	return f.uploadStream(ctx, bytes.NewReader(content), "<memory>", remotePath, mode)
}

// uploadStream copies a reader to a remote path.
func (f *fileTransfer) uploadStream(ctx context.Context, src io.Reader, srcName, remotePath string, mode uint32) error {
	startTime := time.Now()

	f.logger.Debug().
		Str("source", srcName).
		Str("remote", remotePath).
		Uint32("mode", mode).
		Msg("uploading file")

	// Create SFTP client
	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	// Ensure remote directory exists
	remoteDir := filepath.Dir(remotePath)
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote directory: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	// Create the remote file
	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer remoteFile.Close()

	// Copy the file with context awareness
	bytesWritten, err := f.copyWithContext(ctx, remoteFile, src)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	// Set file permissions if specified
	if mode > 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			f.logger.Warn().Err(err).Msg("failed to set file permissions")
		}
	}

	f.logger.Info().
		Str("source", srcName).
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// uploadDirectory recursively uploads a directory. Nonzero fileMode and
// dirMode override the local permission bits on every entry.
func (f *fileTransfer) uploadDirectory(ctx context.Context, localPath string, remotePath string, fileMode, dirMode uint32) error {
	f.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("uploading directory")

	// Create SFTP client
	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	// Walk the local directory
	return filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Calculate relative path
		relPath, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(remotePath, relPath)

		if info.IsDir() {
			if err := sftpClient.MkdirAll(targetPath); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", targetPath, err)
			}
			if dirMode > 0 {
				if err := sftpClient.Chmod(targetPath, os.FileMode(dirMode)); err != nil {
					f.logger.Warn().Err(err).Str("dir", targetPath).Msg("failed to set directory permissions")
				}
			}
		} else {
			mode := uint32(info.Mode().Perm())
			if fileMode > 0 {
				mode = fileMode
			}
			if err := f.uploadFile(ctx, path, targetPath, mode); err != nil {
				return fmt.Errorf("failed to upload file %s: %w", path, err)
			}
		}

		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		return nil
	})
}

// remoteFileSet lists the relative paths of regular files under a remote
// directory. A missing directory yields an empty set.
func (f *fileTransfer) remoteFileSet(remotePath string) (map[string]bool, error) {
	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	files := make(map[string]bool)
	if _, err := sftpClient.Stat(remotePath); err != nil {
		return files, nil
	}

	walker := sftpClient.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, &TransportError{
				Op:          "list-dir",
				Err:         fmt.Errorf("failed to walk remote directory: %w", err),
				IsTemporary: true,
				IsAuthError: false,
			}
		}
		if walker.Stat().IsDir() {
			continue
		}
		relPath, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return nil, err
		}
		files[relPath] = true
	}

	return files, nil
}

// removeRemoteFile deletes one file on the remote host.
func (f *fileTransfer) removeRemoteFile(remotePath string) error {
	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(remotePath); err != nil {
		return &TransportError{
			Op:          "remove",
			Err:         fmt.Errorf("failed to remove remote file: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return nil
}

// setPermissions sets file permissions on the remote host.
func (f *fileTransfer) setPermissions(ctx context.Context, remotePath string, mode uint32) error {
	f.logger.Debug().
		Str("path", remotePath).
		Uint32("mode", mode).
		Msg("setting file permissions")

	// Create SFTP client
	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &TransportError{
			Op:          "chmod",
			Err:         fmt.Errorf("failed to set permissions: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	return nil
}

// setOwnership sets file ownership on the remote host. Ownership changes
// need root, so this goes through the command channel instead of SFTP.
func (f *fileTransfer) setOwnership(ctx context.Context, remotePath string, owner string, group string) error {
	f.logger.Debug().
		Str("path", remotePath).
		Str("owner", owner).
		Str("group", group).
		Msg("setting file ownership")

	spec := owner
	if group != "" {
		spec = owner + ":" + group
	}
	cmd := fmt.Sprintf("chown -R %s %s", shellQuote(spec), shellQuote(remotePath))
	_, stderr, err := f.client.ExecuteCommandWithSudo(ctx, cmd, f.config.SudoPassword)
	if err != nil {
		return &TransportError{
			Op:          "chown",
			Err:         fmt.Errorf("failed to set ownership: %s", stderr),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	return nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func (f *fileTransfer) copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		// Read from source
		nr, err := src.Read(buf)
		if nr > 0 {
			// Write to destination
			nw, err := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if err != nil {
				return written, err
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
