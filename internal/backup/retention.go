package backup

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// enforceRetention deletes the oldest archives beyond the configured
// count. A count of zero keeps everything.
func (m *Manager) enforceRetention() error {
	if m.cfg.RetentionCount <= 0 {
		return nil
	}

	files, err := m.dest.List()
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	// Only manage files this manager produced
	var archives []File
	for _, f := range files {
		if strings.HasPrefix(f.Filename, "world-") && filepath.Ext(f.Filename) == ".zip" {
			archives = append(archives, f)
		}
	}

	if len(archives) <= m.cfg.RetentionCount {
		return nil
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CreatedAt > archives[j].CreatedAt
	})

	deleted := 0
	for _, old := range archives[m.cfg.RetentionCount:] {
		if err := m.Delete(old.Filename); err != nil {
			m.logger.Warn("failed to delete expired archive", "file", old.Filename, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		m.logger.Info("retention enforced", "deleted", deleted, "kept", m.cfg.RetentionCount)
	}
	return nil
}
