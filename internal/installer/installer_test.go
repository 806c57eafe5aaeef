package installer

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/events"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTestInstaller(t *testing.T, entries []config.VersionEntry) (*Installer, *database.DB) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	inst := New(config.InstallerConfig{
		Versions:     entries,
		MaxRetries:   1,
		RetryBackoff: 0,
	}, db, events.NewBus())
	return inst, db
}

func TestInstallSuccess(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"server.jar":           "jar bytes",
		"libraries/dep.jar":    "dep bytes",
		"config/server.properties": "motd=hello",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	inst, db := newTestInstaller(t, []config.VersionEntry{
		{Version: "1.21.4", URL: srv.URL, SHA256: sha256Hex(archive)},
	})

	target := t.TempDir()
	path, err := inst.Install(context.Background(), "1.21.4", target)
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if path != filepath.Join(target, "1.21.4") {
		t.Errorf("unexpected install path: %s", path)
	}

	data, err := os.ReadFile(filepath.Join(path, "server.jar"))
	if err != nil {
		t.Fatalf("server.jar missing: %v", err)
	}
	if string(data) != "jar bytes" {
		t.Errorf("unexpected jar content: %q", data)
	}

	record, err := db.GetInstallation("1.21.4")
	if err != nil || record == nil {
		t.Fatalf("installation not recorded: %v", err)
	}

	// No staging leftovers
	leftovers, _ := filepath.Glob(filepath.Join(target, "*.partial-*"))
	if len(leftovers) != 0 {
		t.Errorf("staging directories left behind: %v", leftovers)
	}

	// Second install of the same version is rejected
	_, err = inst.Install(context.Background(), "1.21.4", target)
	var already *AlreadyInstalledError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyInstalledError, got %v", err)
	}
	if already.Version != "1.21.4" {
		t.Errorf("unexpected version in error: %s", already.Version)
	}
}

func TestInstallChecksumMismatch(t *testing.T) {
	archive := buildZip(t, map[string]string{"server.jar": "jar bytes"})

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write(archive)
	}))
	defer srv.Close()

	inst, _ := newTestInstaller(t, []config.VersionEntry{
		{Version: "1.21.4", URL: srv.URL, SHA256: strings.Repeat("0", 64)},
	})

	target := t.TempDir()
	_, err := inst.Install(context.Background(), "1.21.4", target)

	var checksum *ChecksumError
	if !errors.As(err, &checksum) {
		t.Fatalf("expected ChecksumError, got %v", err)
	}
	if checksum.Actual != sha256Hex(archive) {
		t.Errorf("unexpected actual digest: %s", checksum.Actual)
	}
	if requests != 1 {
		t.Errorf("checksum mismatch was retried %d times", requests)
	}
	if _, statErr := os.Stat(filepath.Join(target, "1.21.4")); !os.IsNotExist(statErr) {
		t.Error("target directory exists after failed install")
	}
}

func TestInstallRetriesTransientFailures(t *testing.T) {
	archive := buildZip(t, map[string]string{"server.jar": "jar bytes"})

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	inst, _ := newTestInstaller(t, []config.VersionEntry{
		{Version: "1.21.4", URL: srv.URL, SHA256: sha256Hex(archive)},
	})

	if _, err := inst.Install(context.Background(), "1.21.4", t.TempDir()); err != nil {
		t.Fatalf("install failed after retry: %v", err)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
}

func TestInstallNetworkErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inst, _ := newTestInstaller(t, []config.VersionEntry{
		{Version: "1.21.4", URL: srv.URL},
	})

	_, err := inst.Install(context.Background(), "1.21.4", t.TempDir())
	var network *NetworkError
	if !errors.As(err, &network) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestInstallMalformedArchiveLeavesNoTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a zip"))
	}))
	defer srv.Close()

	inst, db := newTestInstaller(t, []config.VersionEntry{
		{Version: "1.21.4", URL: srv.URL},
	})

	target := t.TempDir()
	_, err := inst.Install(context.Background(), "1.21.4", target)

	var unpack *UnpackError
	if !errors.As(err, &unpack) {
		t.Fatalf("expected UnpackError, got %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(target, "1.21.4")); !os.IsNotExist(statErr) {
		t.Error("target directory exists after failed unpack")
	}
	leftovers, _ := filepath.Glob(filepath.Join(target, "*.partial-*"))
	if len(leftovers) != 0 {
		t.Errorf("staging directories left behind: %v", leftovers)
	}

	record, err := db.GetInstallation("1.21.4")
	if err != nil {
		t.Fatalf("failed to query installation: %v", err)
	}
	if record != nil {
		t.Error("failed install was recorded")
	}
}

func TestInstallCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	inst, _ := newTestInstaller(t, []config.VersionEntry{
		{Version: "1.21.4", URL: srv.URL},
	})

	target := t.TempDir()
	_, err := inst.Install(ctx, "1.21.4", target)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(target, "1.21.4")); !os.IsNotExist(statErr) {
		t.Error("target directory exists after cancelled install")
	}
}

func TestInstallUnknownVersion(t *testing.T) {
	inst, _ := newTestInstaller(t, nil)

	_, err := inst.Install(context.Background(), "9.9.9", t.TempDir())
	var unknown *UnknownVersionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownVersionError, got %v", err)
	}
}

func TestSanitizePathRejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		ok    bool
	}{
		{"plain file", "server.jar", true},
		{"nested file", "libraries/dep.jar", true},
		{"dot segment collapses", "a/./b.txt", true},
		{"parent escape", "../evil.sh", false},
		{"nested parent escape", "a/../../evil.sh", false},
		{"absolute path", "/etc/passwd", false},
	}

	dest := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizePath(dest, tt.entry)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !strings.HasPrefix(got, dest) {
					t.Errorf("path escapes destination: %s", got)
				}
			} else if err == nil {
				t.Errorf("expected rejection for %q, got %s", tt.entry, got)
			}
		})
	}
}

func TestResolverFetchesRemoteManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"versions":[{"version":"1.21.5","url":"https://example.com/1.21.5.zip","sha256":"abc"}]}`))
	}))
	defer srv.Close()

	r := NewResolver(config.InstallerConfig{
		ManifestURL: srv.URL,
		Versions:    []config.VersionEntry{{Version: "1.21.4", URL: "https://pinned.example.com"}},
	})

	artifact, err := r.Resolve(context.Background(), "1.21.5")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if artifact.URL != "https://example.com/1.21.5.zip" {
		t.Errorf("unexpected artifact: %+v", artifact)
	}

	// Pinned entries win without touching the network
	artifact, err = r.Resolve(context.Background(), "1.21.4")
	if err != nil {
		t.Fatalf("resolve pinned failed: %v", err)
	}
	if artifact.URL != "https://pinned.example.com" {
		t.Errorf("pinned entry not preferred: %+v", artifact)
	}

	available, err := r.Available(context.Background())
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if len(available) != 2 {
		t.Errorf("expected 2 versions, got %d", len(available))
	}
}
