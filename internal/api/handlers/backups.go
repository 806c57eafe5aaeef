package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/craft-server-supervisor/internal/backup"
	"github.com/yourusername/craft-server-supervisor/internal/database"
)

// BackupRunner is the slice of the backup manager the HTTP layer drives
type BackupRunner interface {
	RunBackup(trigger string) (*database.BackupRecord, error)
	Restore(filename string) error
	List() ([]backup.File, error)
	Delete(filename string) error
}

// BackupHandler handles backup-related HTTP requests
type BackupHandler struct {
	backups BackupRunner
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(backups BackupRunner) *BackupHandler {
	return &BackupHandler{backups: backups}
}

// List returns the archives present at the configured destination
func (h *BackupHandler) List(c *gin.Context) {
	files, err := h.backups.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": files})
}

// Create runs a backup now
func (h *BackupHandler) Create(c *gin.Context) {
	record, err := h.backups.RunBackup("manual")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, record)
}

// Restore downloads an archive and unpacks it over the world directory
func (h *BackupHandler) Restore(c *gin.Context) {
	name := c.Param("name")
	if err := h.backups.Restore(name); err != nil {
		if err == backup.ErrServerRunning {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": name})
}

// Delete removes an archive from the destination and the database
func (h *BackupHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if err := h.backups.Delete(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}
