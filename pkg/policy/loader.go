package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// severityAnnotation is the comment annotation that sets a rego policy's
// severity, e.g. "# severity: error".
const severityAnnotation = "severity:"

// Loader reads fleet policies from the filesystem. Policies are loaded
// fresh on every call; a CLI invocation resolves its policy set once, and
// long-lived processes reload through Watch.
type Loader struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads every policy under the given files and directories.
// Directories are walked recursively; files that are not .rego or .json
// are skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}

		if !info.IsDir() {
			policy, err := l.readPolicy(path)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *policy)
			continue
		}

		loaded, err := l.loadDir(path)
		if err != nil {
			return nil, err
		}
		policies = append(policies, loaded...)
	}

	l.logger.Info().
		Int("policies", len(policies)).
		Int("paths", len(paths)).
		Msg("loaded fleet policies")
	return policies, nil
}

// loadDir walks a directory tree collecting policy documents. A file that
// fails to parse is logged and skipped so one broken policy does not take
// the whole directory down.
func (l *Loader) loadDir(dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.readPolicy(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable policy")
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("policy directory %s: %w", dir, err)
	}
	return policies, nil
}

// isPolicyFile reports whether a path looks like a policy document.
func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

// readPolicy parses one policy document from disk.
func (l *Loader) readPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}

	var policy *Policy
	switch filepath.Ext(path) {
	case ".rego":
		policy = parseRego(path, data)
	case ".json":
		policy, err = parseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("policy %s: unsupported file type", path)
	}

	l.logger.Debug().
		Str("path", path).
		Str("policy", policy.Name).
		Str("severity", string(policy.Severity)).
		Msg("policy read")
	return policy, nil
}

// parseRego wraps raw rego source as a Policy. The policy name comes from
// the file name, the description and severity from the leading comment
// block. Severity defaults to warning when no annotation is present.
func parseRego(path string, data []byte) *Policy {
	description, severity := parseHeader(string(data))
	now := time.Now()
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
		Metadata:    map[string]interface{}{"source": path},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// parseJSON decodes a JSON policy document, filling in defaults.
func parseJSON(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, err
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}
	return &policy, nil
}

// parseHeader scans the leading comment block of a rego document for a
// description and a severity annotation. Scanning stops at the first
// non-comment line.
func parseHeader(source string) (string, Severity) {
	severity := SeverityWarning
	var description []string

	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		switch {
		case comment == "":
		case strings.HasPrefix(comment, severityAnnotation):
			value := strings.TrimSpace(strings.TrimPrefix(comment, severityAnnotation))
			switch Severity(value) {
			case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
				severity = Severity(value)
			}
		case strings.HasPrefix(comment, "package"):
		default:
			description = append(description, comment)
		}
	}

	return strings.Join(description, " "), severity
}

// Watch reloads policies whenever a watched file changes. Reloads are
// debounced so an editor writing several files triggers one reload.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := l.watchPath(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("cannot watch policy path")
		}
	}

	go l.watchLoop(ctx, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("watching policy paths")
	return nil
}

// watchPath registers a file, or every directory under a tree, with the
// watcher.
func (l *Loader) watchPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return l.watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(p)
		}
		return nil
	})
}

// watchLoop drains watcher events until the context is done.
func (l *Loader) watchLoop(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	const debounce = 500 * time.Millisecond
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("policy file changed")

			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounce, func() {
				policies, err := l.LoadFromPaths(ctx, paths)
				if err != nil {
					l.logger.Error().Err(err).Msg("policy reload failed")
					return
				}
				if err := reloadFn(policies); err != nil {
					l.logger.Error().Err(err).Msg("policy reload rejected")
					return
				}
				l.logger.Info().Int("policies", len(policies)).Msg("policies reloaded")
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("policy watcher error")
		}
	}
}

// Close stops the watcher, if one is running.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}
