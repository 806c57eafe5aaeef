package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
	xssh "golang.org/x/crypto/ssh"
)

// SFTPDestination stores archives on a remote SFTP server
type SFTPDestination struct {
	cfg        config.BackupConfig
	sshClient  *xssh.Client
	sftpClient *sftp.Client
	logger     *slog.Logger
}

// NewSFTPDestination creates an SFTP destination and connects eagerly
// so misconfiguration surfaces at startup
func NewSFTPDestination(cfg config.BackupConfig) (*SFTPDestination, error) {
	dest := &SFTPDestination{cfg: cfg, logger: logging.Component("backup")}
	if err := dest.connect(); err != nil {
		return nil, err
	}
	return dest, nil
}

func (sd *SFTPDestination) connect() error {
	knownHostsPath := sd.cfg.KnownHostsPath
	if knownHostsPath == "" {
		knownHostsPath = "./data/known_hosts"
	}

	hostKeyCallback, err := newHostKeyCallback(knownHostsPath, sd.cfg.TrustOnFirstUse)
	if err != nil {
		return fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &xssh.ClientConfig{
		User:            sd.cfg.SFTPUsername,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	switch {
	case sd.cfg.SFTPKeyPath != "":
		keyData, err := os.ReadFile(sd.cfg.SFTPKeyPath)
		if err != nil {
			return fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err := xssh.ParsePrivateKey(keyData)
		if err != nil {
			return fmt.Errorf("failed to parse SSH key: %w", err)
		}
		sshConfig.Auth = []xssh.AuthMethod{xssh.PublicKeys(signer)}
	case sd.cfg.SFTPPassword != "":
		sshConfig.Auth = []xssh.AuthMethod{xssh.Password(sd.cfg.SFTPPassword)}
	default:
		return fmt.Errorf("no authentication method provided for SFTP")
	}

	addr := fmt.Sprintf("%s:%d", sd.cfg.SFTPHost, sd.cfg.SFTPPort)
	sd.logger.Info("connecting to sftp destination", "addr", addr)

	sshClient, err := xssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH server: %w", err)
	}
	sd.sshClient = sshClient

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	sd.sftpClient = sftpClient

	if err := sd.sftpClient.MkdirAll(sd.cfg.Path); err != nil {
		sd.Close()
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	return nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
	}
	if sd.sshClient != nil {
		sd.sshClient.Close()
	}
	return nil
}

// Upload stores an archive on the remote server
func (sd *SFTPDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.cfg.Path, filename)

	file, err := sd.sftpClient.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if written != sizeBytes {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	sd.logger.Debug("archive uploaded", "path", destPath, "bytes", written)
	return nil
}

// Download streams an archive from the remote server
func (sd *SFTPDestination) Download(filename string, writer io.Writer) error {
	file, err := sd.sftpClient.Open(path.Join(sd.cfg.Path, filename))
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

// Delete removes an archive from the remote server
func (sd *SFTPDestination) Delete(filename string) error {
	if err := sd.sftpClient.Remove(path.Join(sd.cfg.Path, filename)); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all archives on the remote server
func (sd *SFTPDestination) List() ([]File, error) {
	entries, err := sd.sftpClient.ReadDir(sd.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, File{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}
	return files, nil
}

// Type returns the destination type
func (sd *SFTPDestination) Type() string {
	return "sftp"
}
