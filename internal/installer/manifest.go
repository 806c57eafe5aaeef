package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yourusername/craft-server-supervisor/internal/config"
)

// Artifact describes one downloadable server distribution
type Artifact struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	SHA256  string `json:"sha256,omitempty"`
}

// manifest is the remote version index document
type manifest struct {
	Versions []Artifact `json:"versions"`
}

// Resolver maps a version string to a download artifact. Pinned config
// entries win over the remote manifest so an operator can override a
// URL without waiting for the index to update.
type Resolver struct {
	pinned      []config.VersionEntry
	manifestURL string
	client      *http.Client
}

// NewResolver creates a resolver from installer configuration
func NewResolver(cfg config.InstallerConfig) *Resolver {
	return &Resolver{
		pinned:      cfg.Versions,
		manifestURL: cfg.ManifestURL,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Resolve returns the artifact for a version, consulting pinned entries
// first and the remote manifest second
func (r *Resolver) Resolve(ctx context.Context, version string) (*Artifact, error) {
	for _, entry := range r.pinned {
		if entry.Version == version {
			return &Artifact{Version: entry.Version, URL: entry.URL, SHA256: entry.SHA256}, nil
		}
	}

	if r.manifestURL == "" {
		return nil, &UnknownVersionError{Version: version}
	}

	remote, err := r.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	for _, artifact := range remote.Versions {
		if artifact.Version == version {
			a := artifact
			return &a, nil
		}
	}
	return nil, &UnknownVersionError{Version: version}
}

// Available lists all versions known to the resolver
func (r *Resolver) Available(ctx context.Context) ([]Artifact, error) {
	seen := make(map[string]struct{})
	var result []Artifact

	for _, entry := range r.pinned {
		seen[entry.Version] = struct{}{}
		result = append(result, Artifact{Version: entry.Version, URL: entry.URL, SHA256: entry.SHA256})
	}

	if r.manifestURL == "" {
		return result, nil
	}

	remote, err := r.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	for _, artifact := range remote.Versions {
		if _, dup := seen[artifact.Version]; dup {
			continue
		}
		result = append(result, artifact)
	}
	return result, nil
}

func (r *Resolver) fetchManifest(ctx context.Context) (*manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.manifestURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: r.manifestURL, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: r.manifestURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{URL: r.manifestURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var m manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, &NetworkError{URL: r.manifestURL, Err: fmt.Errorf("invalid manifest: %w", err)}
	}
	return &m, nil
}
