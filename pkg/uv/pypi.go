package uv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// DefaultIndexEndpoint is the package index JSON endpoint; %s is replaced
// with the package name. The JSON API is used instead of the simple API
// because the latter serves HTML.
const DefaultIndexEndpoint = "https://pypi.org/pypi/%s/json"

// Index looks up package metadata on a PyPI-compatible JSON API.
type Index struct {
	client   *http.Client
	endpoint string
	logger   zerolog.Logger
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) IndexOption {
	return func(i *Index) { i.client = client }
}

// WithEndpoint overrides the JSON endpoint template.
func WithEndpoint(endpoint string) IndexOption {
	return func(i *Index) { i.endpoint = endpoint }
}

// WithIndexLogger sets the logger used for lookups.
func WithIndexLogger(logger zerolog.Logger) IndexOption {
	return func(i *Index) { i.logger = logger }
}

// NewIndex creates an index client with a 30 second request timeout.
func NewIndex(opts ...IndexOption) *Index {
	idx := &Index{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: DefaultIndexEndpoint,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

type packageMetadata struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string]json.RawMessage `json:"releases"`
}

// LatestVersion looks up the latest stable release of a package. A
// non-empty spec restricts the versions considered; pre-releases and dev
// releases are always excluded.
func (i *Index) LatestVersion(ctx context.Context, name, spec string) (string, error) {
	url := fmt.Sprintf(i.endpoint, name)
	i.logger.Debug().Str("package", name).Str("url", url).Msg("looking up latest version")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build index request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("index lookup for %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("index lookup for %s failed: %s", name, resp.Status)
	}

	var meta packageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("failed to decode index response for %s: %w", name, err)
	}

	if spec == "" {
		return meta.Info.Version, nil
	}

	set, err := ParseSpecifierSet(spec)
	if err != nil {
		return "", err
	}

	var matching []Version
	for raw := range meta.Releases {
		v, err := ParseVersion(raw)
		if err != nil || !v.Final {
			continue
		}
		if set.Matches(v) {
			matching = append(matching, v)
		}
	}
	if len(matching) == 0 {
		return "", fmt.Errorf("no release of %s satisfies %q", name, spec)
	}

	sort.Slice(matching, func(a, b int) bool { return matching[b].Less(matching[a]) })
	latest := matching[0].String()
	i.logger.Info().Str("package", name).Str("version", latest).Msg("resolved latest version")
	return latest, nil
}

// Outdated compares an installed tool against the index. It returns whether
// an upgrade is available along with the current and latest versions.
func (i *Index) Outdated(ctx context.Context, tool InstalledTool, spec string) (bool, string, string, error) {
	if spec == "" {
		spec = tool.InstallSpec
	}
	latest, err := i.LatestVersion(ctx, tool.Name, spec)
	if err != nil {
		return false, "", "", err
	}

	current, err := ParseVersion(tool.Version)
	if err != nil {
		return false, "", "", fmt.Errorf("installed version of %s: %w", tool.Name, err)
	}
	latestVersion, err := ParseVersion(latest)
	if err != nil {
		return false, "", "", fmt.Errorf("latest version of %s: %w", tool.Name, err)
	}
	return current.Less(latestVersion), tool.Version, latest, nil
}
