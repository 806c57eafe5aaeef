package backup

import (
	"fmt"
	"io"

	"github.com/yourusername/craft-server-supervisor/internal/config"
)

// Destination is a storage backend for finished backup archives
type Destination interface {
	// Upload stores an archive under filename
	Upload(filename string, reader io.Reader, sizeBytes int64) error

	// Download streams an archive to the writer
	Download(filename string, writer io.Writer) error

	// Delete removes an archive
	Delete(filename string) error

	// List returns all archives at the destination
	List() ([]File, error)

	// Type returns the destination type identifier
	Type() string
}

// File is one archive at a destination
type File struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"` // Unix timestamp
}

// NewDestination builds the configured destination
func NewDestination(cfg config.BackupConfig, localDir string) (Destination, error) {
	switch cfg.Destination {
	case "", "local":
		base := cfg.Path
		if base == "" {
			base = localDir
		}
		return NewLocalDestination(base), nil
	case "sftp":
		return NewSFTPDestination(cfg)
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported backup destination: %s", cfg.Destination)
	}
}
