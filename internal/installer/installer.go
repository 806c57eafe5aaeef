package installer

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/events"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
)

// Installer downloads, verifies, and unpacks server distributions. An
// installation either fully lands at its target directory or leaves no
// trace; the unpack goes to a staging directory that is renamed into
// place only after extraction succeeds.
type Installer struct {
	cfg      config.InstallerConfig
	resolver *Resolver
	db       *database.DB
	bus      *events.Bus
	client   *http.Client
	logger   *slog.Logger
}

// New creates an installer
func New(cfg config.InstallerConfig, db *database.DB, bus *events.Bus) *Installer {
	return &Installer{
		cfg:      cfg,
		resolver: NewResolver(cfg),
		db:       db,
		bus:      bus,
		client:   &http.Client{Timeout: 10 * time.Minute},
		logger:   logging.Component("installer"),
	}
}

// Resolver exposes version resolution for API listings
func (i *Installer) Resolver() *Resolver {
	return i.resolver
}

// Installed reports whether the version is already present on disk
func (i *Installer) Installed(version string) (bool, error) {
	inst, err := i.db.GetInstallation(version)
	if err != nil {
		return false, err
	}
	if inst == nil {
		return false, nil
	}
	if _, err := os.Stat(inst.InstallPath); err != nil {
		// Recorded but missing on disk; treat as not installed
		return false, nil
	}
	return true, nil
}

// Install downloads and unpacks the given version into
// targetDir/<version>. Returns the final install path.
func (i *Installer) Install(ctx context.Context, version, targetDir string) (string, error) {
	installed, err := i.Installed(version)
	if err != nil {
		return "", err
	}
	if installed {
		return "", &AlreadyInstalledError{Version: version}
	}

	artifact, err := i.resolver.Resolve(ctx, version)
	if err != nil {
		return "", err
	}

	installPath := filepath.Join(targetDir, version)

	i.logger.Info("installing server", "version", version, "url", artifact.URL)

	archivePath, digest, err := i.download(ctx, artifact)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	if err := i.unpack(ctx, artifact, archivePath, installPath); err != nil {
		return "", err
	}

	// Record the computed digest even when the manifest carried none
	if err := i.db.RecordInstallation(version, artifact.URL, digest, installPath); err != nil {
		return "", err
	}

	i.publishProgress(version, "done", 100, 0, 0)
	i.logger.Info("install complete", "version", version, "path", installPath)
	return installPath, nil
}

// Uninstall removes an installed version from disk and the database
func (i *Installer) Uninstall(version string) error {
	inst, err := i.db.GetInstallation(version)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}
	if err := os.RemoveAll(inst.InstallPath); err != nil {
		return fmt.Errorf("failed to remove %s: %w", inst.InstallPath, err)
	}
	return i.db.DeleteInstallation(version)
}

// download fetches the artifact to a temp file, retrying transient
// failures with doubling backoff, and verifies the checksum when the
// artifact carries one. Returns the archive path and the sha256 digest
// of its contents; the caller owns the returned path.
func (i *Installer) download(ctx context.Context, artifact *Artifact) (string, string, error) {
	maxAttempts := i.cfg.MaxRetries + 1
	backoff := time.Duration(i.cfg.RetryBackoff) * time.Second
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			i.logger.Warn("retrying download", "url", artifact.URL, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", "", ctx.Err()
			}
			backoff *= 2
		}

		path, digest, err := i.downloadOnce(ctx, artifact)
		if err == nil {
			return path, digest, nil
		}

		// Checksum mismatches and cancellation are not retried
		var checksumErr *ChecksumError
		if errors.As(err, &checksumErr) {
			return "", "", err
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		lastErr = err
	}

	return "", "", &NetworkError{URL: artifact.URL, Err: lastErr}
}

func (i *Installer) downloadOnce(ctx context.Context, artifact *Artifact) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URL, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "server-download-*.zip")
	if err != nil {
		return "", "", err
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	counter := &progressReader{
		reader: io.TeeReader(resp.Body, hasher),
		total:  resp.ContentLength,
		report: func(done, total int64) {
			percent := 0.0
			if total > 0 {
				percent = float64(done) / float64(total) * 100
			}
			i.publishProgress(artifact.Version, "download", percent, done, total)
		},
	}

	_, copyErr := io.Copy(tmp, counter)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", "", copyErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", "", closeErr
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if artifact.SHA256 != "" && !strings.EqualFold(actual, artifact.SHA256) {
		os.Remove(tmpPath)
		return "", "", &ChecksumError{Expected: strings.ToLower(artifact.SHA256), Actual: actual}
	}

	return tmpPath, actual, nil
}

// unpack extracts the archive into a staging directory next to the
// target and renames it into place. A failure at any point removes the
// staging directory so the target never holds a partial tree.
func (i *Installer) unpack(ctx context.Context, artifact *Artifact, archivePath, installPath string) error {
	if err := os.MkdirAll(filepath.Dir(installPath), 0755); err != nil {
		return &UnpackError{Path: installPath, Err: err}
	}

	staging := installPath + ".partial-" + uuid.NewString()[:8]
	if err := os.MkdirAll(staging, 0755); err != nil {
		return &UnpackError{Path: staging, Err: err}
	}

	if err := extractZip(ctx, archivePath, staging, func(done, total int) {
		percent := 0.0
		if total > 0 {
			percent = float64(done) / float64(total) * 100
		}
		i.publishProgress(artifact.Version, "unpack", percent, int64(done), int64(total))
	}); err != nil {
		os.RemoveAll(staging)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UnpackError{Path: archivePath, Err: err}
	}

	if err := os.Rename(staging, installPath); err != nil {
		os.RemoveAll(staging)
		return &UnpackError{Path: installPath, Err: err}
	}
	return nil
}

func extractZip(ctx context.Context, archivePath, destDir string, report func(done, total int)) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	total := len(reader.File)
	for idx, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := sanitizePath(destDir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		src, err := file.Open()
		if err != nil {
			return err
		}

		dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, file.Mode().Perm()|0600)
		if err != nil {
			src.Close()
			return err
		}

		_, copyErr := io.Copy(dst, src)
		src.Close()
		if closeErr := dst.Close(); copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			return copyErr
		}

		if report != nil {
			report(idx+1, total)
		}
	}
	return nil
}

// sanitizePath rejects archive entries that would escape the
// destination directory
func sanitizePath(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return filepath.Join(destDir, cleaned), nil
}

func (i *Installer) publishProgress(version, stage string, percent float64, done, total int64) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(events.TypeInstallProgress, events.InstallProgressPayload{
		Version:    version,
		Stage:      stage,
		Percent:    percent,
		BytesDone:  done,
		BytesTotal: total,
	})
}

// progressReader reports cumulative bytes read at most once per 256 KiB
type progressReader struct {
	reader   io.Reader
	total    int64
	done     int64
	reported int64
	report   func(done, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	p.done += int64(n)
	if p.report != nil && (p.done-p.reported >= 256*1024 || err == io.EOF) {
		p.reported = p.done
		p.report(p.done, p.total)
	}
	return n, err
}
