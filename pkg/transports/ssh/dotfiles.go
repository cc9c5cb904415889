package ssh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/uvfleet/uvfleet/pkg/state"
)

// SyncDotfiles copies a user's dotfiles to the remote machine. The source is
// the first candidate directory that exists on the controller; when none
// exists the sync is a no-op. With Clean set, remote files absent from the
// source are removed after the upload.
func (c *Client) SyncDotfiles(ctx context.Context, src *state.DotfileSource, owner string, group string) error {
	if c.fileTransfer == nil {
		return &TransportError{
			Op:          "dotfile-sync",
			Err:         fmt.Errorf("file transfer not initialized"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	localDir := firstExistingDir(src.Candidates)
	if localDir == "" {
		c.logger.Debug().
			Strs("candidates", src.Candidates).
			Msg("no dotfile source directory found, skipping sync")
		return nil
	}

	fileMode, err := parseFileMode(src.FileMode)
	if err != nil {
		return fmt.Errorf("invalid file mode %q: %w", src.FileMode, err)
	}
	dirMode, err := parseFileMode(src.DirMode)
	if err != nil {
		return fmt.Errorf("invalid dir mode %q: %w", src.DirMode, err)
	}

	localFiles, err := localFileSet(localDir)
	if err != nil {
		return fmt.Errorf("failed to scan dotfile source: %w", err)
	}

	c.logger.Info().
		Str("source", localDir).
		Str("dest", src.Dest).
		Int("files", len(localFiles)).
		Bool("clean", src.Clean).
		Msg("syncing dotfiles")

	if err := c.fileTransfer.uploadDirectory(ctx, localDir, src.Dest, fileMode, dirMode); err != nil {
		return err
	}

	if src.Clean {
		remoteFiles, err := c.fileTransfer.remoteFileSet(src.Dest)
		if err != nil {
			return err
		}
		for relPath := range remoteFiles {
			if localFiles[relPath] {
				continue
			}
			target := filepath.Join(src.Dest, relPath)
			c.logger.Debug().Str("path", target).Msg("removing file absent from source")
			if err := c.fileTransfer.removeRemoteFile(target); err != nil {
				return err
			}
		}
	}

	if owner != "" {
		if err := c.fileTransfer.setOwnership(ctx, src.Dest, owner, group); err != nil {
			return err
		}
	}

	return nil
}

// firstExistingDir returns the first candidate that is a directory.
func firstExistingDir(candidates []string) string {
	for _, dir := range candidates {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

// parseFileMode parses an octal permission string ("0644"). Empty means no
// override.
func parseFileMode(mode string) (uint32, error) {
	if mode == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, err
	}
	return uint32(parsed), nil
}

// localFileSet lists the relative paths of regular files under a local
// directory.
func localFileSet(dir string) (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[relPath] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
