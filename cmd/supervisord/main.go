package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/yourusername/craft-server-supervisor/internal/api"
	"github.com/yourusername/craft-server-supervisor/internal/backup"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/events"
	"github.com/yourusername/craft-server-supervisor/internal/installer"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
	"github.com/yourusername/craft-server-supervisor/internal/monitor"
	"github.com/yourusername/craft-server-supervisor/internal/supervisor"
	"github.com/yourusername/craft-server-supervisor/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	// Check if running migrations
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrations(cfg)
		return
	}

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run migrations automatically
	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	// Event bus carries lifecycle, log, metric, and backup events
	bus := events.NewBus()
	defer bus.Close()

	// Installer resolves, downloads, and unpacks server versions
	inst := installer.New(cfg.Installer, db, bus)

	// Supervisor owns the server process lifecycle
	sup, err := supervisor.New(cfg, db, bus, inst)
	if err != nil {
		log.Fatalf("Failed to initialize supervisor: %v", err)
	}
	defer sup.Close()

	// Resource monitor samples the child process and flags a vanished one
	resourceMonitor := monitor.New(cfg.Monitor, db, bus, sup.HandleProcessVanished)
	sup.SetTracker(resourceMonitor)
	if cfg.Monitor.Enabled {
		resourceMonitor.Start()
		defer resourceMonitor.Stop()
	}

	// World backup manager
	backupManager, err := backup.NewManager(cfg.Backup, cfg.Storage.BackupDir, db, bus, sup)
	if err != nil {
		log.Fatalf("Failed to initialize backup manager: %v", err)
	}
	if err := backupManager.Start(); err != nil {
		log.Fatalf("Failed to start backup scheduler: %v", err)
	}
	defer backupManager.Stop()

	// WebSocket hub streams bus events to clients
	hub := websocket.NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	log.Println("All components initialized successfully")

	// Set up HTTP server
	router := api.SetupRouter(cfg, sup, db, inst.Resolver(), backupManager, hub)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s", httpServer.Addr)

		if cfg.Server.TLS.Enabled {
			if err := httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start HTTPS server: %v", err)
			}
		} else {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start HTTP server: %v", err)
			}
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first, then bring the server process down
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	if err := sup.Close(); err != nil {
		log.Printf("Supervisor shutdown error: %v", err)
	}

	log.Println("Supervisor exited")
}

func setupLogging(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Logging.File) == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		cfg.Logging.File = filepath.Join(dataDir, "logs", "supervisord.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		return err
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

func runMigrations(cfg *config.Config) {
	log.Println("Running database migrations...")

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}
