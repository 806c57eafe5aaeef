package console

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter appends raw console output to a rotating file under the
// server's data directory. Rotation is size-based so a chatty server
// cannot fill the disk.
type LogWriter struct {
	mu     sync.Mutex
	out    *lumberjack.Logger
	closed bool
}

// NewLogWriter creates a console log writer rooted at logDir
func NewLogWriter(logDir string, maxSizeMB, maxBackups int) (*LogWriter, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create console log directory: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}

	return &LogWriter{
		out: &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "console.log"),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		},
	}, nil
}

// WriteLine appends one timestamped console line
func (lw *LogWriter) WriteLine(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.closed {
		return nil
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(lw.out, "[%s] %s\n", timestamp, line); err != nil {
		return fmt.Errorf("failed to write console log: %w", err)
	}
	return nil
}

// Close stops accepting lines and closes the underlying file
func (lw *LogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.closed {
		return nil
	}
	lw.closed = true
	return lw.out.Close()
}
