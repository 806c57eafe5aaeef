package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/installer"
	"github.com/yourusername/craft-server-supervisor/internal/supervisor"
)

// Lifecycle is the slice of the supervisor the HTTP layer drives
type Lifecycle interface {
	Install(ctx context.Context, version string) (string, error)
	Start() error
	Stop() (supervisor.StopResult, error)
	Restart() error
	SendCommand(command string) error
	Acknowledge() error
	AcceptEULA() error
	Status() supervisor.Status
}

// HistoryStore reads persisted lifecycle and resource history
type HistoryStore interface {
	ListStatusHistory(limit int) ([]database.StatusChange, error)
	ListResourceSamples(since time.Time) ([]database.ResourceSample, error)
	ListInstallations() ([]database.Installation, error)
}

// Catalog resolves which server versions can be installed
type Catalog interface {
	Available(ctx context.Context) ([]installer.Artifact, error)
}

// ServerHandler handles lifecycle HTTP requests
type ServerHandler struct {
	cfg       *config.Config
	lifecycle Lifecycle
	store     HistoryStore
	catalog   Catalog
}

// NewServerHandler creates a new server handler
func NewServerHandler(cfg *config.Config, lifecycle Lifecycle, store HistoryStore, catalog Catalog) *ServerHandler {
	return &ServerHandler{
		cfg:       cfg,
		lifecycle: lifecycle,
		store:     store,
		catalog:   catalog,
	}
}

type installRequest struct {
	Version string `json:"version"`
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

// Install downloads and unpacks a server version. The request blocks
// until the install finishes; progress rides on the event stream.
func (h *ServerHandler) Install(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	version := req.Version
	if version == "" {
		version = h.cfg.Supervisor.Version
	}
	if version == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No version specified and none configured"})
		return
	}

	installPath, err := h.lifecycle.Install(c.Request.Context(), version)
	if err != nil {
		respondLifecycleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version":      version,
		"install_path": installPath,
	})
}

// Start launches the server process
func (h *ServerHandler) Start(c *gin.Context) {
	if err := h.lifecycle.Start(); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.lifecycle.Status())
}

// Stop shuts the server down, gracefully when it cooperates
func (h *ServerHandler) Stop(c *gin.Context) {
	result, err := h.lifecycle.Stop()
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"forced": result.Forced,
		"status": h.lifecycle.Status(),
	})
}

// Restart stops then starts the server as one command
func (h *ServerHandler) Restart(c *gin.Context) {
	if err := h.lifecycle.Restart(); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.lifecycle.Status())
}

// Command writes a console command to the running server
func (h *ServerHandler) Command(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.lifecycle.SendCommand(req.Command); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": req.Command})
}

// Acknowledge clears a crashed state back to stopped
func (h *ServerHandler) Acknowledge(c *gin.Context) {
	if err := h.lifecycle.Acknowledge(); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.lifecycle.Status())
}

// Status reports the current lifecycle snapshot
func (h *ServerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.lifecycle.Status())
}

// History lists recorded state transitions, newest first
func (h *ServerHandler) History(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	history, err := h.store.ListStatusHistory(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// Metrics lists resource samples from the last N minutes (default 60)
func (h *ServerHandler) Metrics(c *gin.Context) {
	minutes := 60
	if raw := c.Query("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid minutes"})
			return
		}
		minutes = parsed
	}

	samples, err := h.store.ListResourceSamples(time.Now().Add(-time.Duration(minutes) * time.Minute))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load samples"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

// Versions lists installable versions and flags the installed ones
func (h *ServerHandler) Versions(c *gin.Context) {
	artifacts, err := h.catalog.Available(c.Request.Context())
	if err != nil {
		respondLifecycleError(c, err)
		return
	}

	installed := make(map[string]bool)
	if records, err := h.store.ListInstallations(); err == nil {
		for _, record := range records {
			installed[record.Version] = true
		}
	}

	type versionInfo struct {
		Version   string `json:"version"`
		Installed bool   `json:"installed"`
	}
	out := make([]versionInfo, 0, len(artifacts))
	for _, artifact := range artifacts {
		out = append(out, versionInfo{Version: artifact.Version, Installed: installed[artifact.Version]})
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

// EULAStatus reports whether the EULA has been accepted
func (h *ServerHandler) EULAStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accepted": h.lifecycle.Status().EULAAccepted})
}

// AcceptEULA marks the EULA accepted in the installation directory
func (h *ServerHandler) AcceptEULA(c *gin.Context) {
	if err := h.lifecycle.AcceptEULA(); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// respondLifecycleError maps domain errors onto HTTP statuses
func respondLifecycleError(c *gin.Context, err error) {
	var (
		invalidTransition *supervisor.InvalidTransitionError
		alreadyInstalled  *installer.AlreadyInstalledError
		unknownVersion    *installer.UnknownVersionError
		networkErr        *installer.NetworkError
		checksumErr       *installer.ChecksumError
	)

	switch {
	case errors.As(err, &invalidTransition), errors.As(err, &alreadyInstalled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, supervisor.ErrNotInstalled),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, supervisor.ErrEULANotAccepted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &unknownVersion):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &networkErr), errors.As(err, &checksumErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.JSON(499, gin.H{"error": "Request cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
