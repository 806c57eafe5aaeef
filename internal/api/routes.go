package api

import (
	"github.com/gin-gonic/gin"
	"github.com/yourusername/craft-server-supervisor/internal/api/handlers"
	"github.com/yourusername/craft-server-supervisor/internal/api/middleware"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/websocket"
)

// SetupRouter configures and returns the HTTP router
func SetupRouter(
	cfg *config.Config,
	lifecycle handlers.Lifecycle,
	store handlers.HistoryStore,
	catalog handlers.Catalog,
	backups handlers.BackupRunner,
	hub *websocket.Hub,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit.Enabled, cfg.Security.RateLimit.RequestsPerMinute))
	router.Use(middleware.SecurityHeaders())

	serverHandler := handlers.NewServerHandler(cfg, lifecycle, store, catalog)
	backupHandler := handlers.NewBackupHandler(backups)
	eventsHandler := handlers.NewEventsHandler(hub, cfg.Security.CORS)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", serverHandler.Status)
		v1.GET("/status/history", serverHandler.History)
		v1.GET("/metrics", serverHandler.Metrics)
		v1.GET("/versions", serverHandler.Versions)

		server := v1.Group("/server")
		{
			server.POST("/install", serverHandler.Install)
			server.POST("/start", serverHandler.Start)
			server.POST("/stop", serverHandler.Stop)
			server.POST("/restart", serverHandler.Restart)
			server.POST("/command", serverHandler.Command)
			server.POST("/acknowledge", serverHandler.Acknowledge)
		}

		v1.GET("/eula", serverHandler.EULAStatus)
		v1.POST("/eula/accept", serverHandler.AcceptEULA)

		backupsGroup := v1.Group("/backups")
		{
			backupsGroup.GET("", backupHandler.List)
			backupsGroup.POST("", backupHandler.Create)
			backupsGroup.POST("/:name/restore", backupHandler.Restore)
			backupsGroup.DELETE("/:name", backupHandler.Delete)
		}

		// WebSocket event stream
		v1.GET("/events", eventsHandler.Stream)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
