package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"

	"github.com/afklabs/afk/internal/api"
	"github.com/afklabs/afk/internal/config"
	"github.com/afklabs/afk/internal/hub"
	"github.com/afklabs/afk/internal/notifier"
	"github.com/afklabs/afk/internal/storage/sqlite"
	"github.com/afklabs/afk/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting AFK gateway",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Create SQLite session storage
	storage, err := sqlite.NewSessionStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer storage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create push notifier
	notif := notifier.New(notifier.Config{
		Enabled:        cfg.Notifier.Enabled,
		ServerURL:      cfg.Notifier.ServerURL,
		Topic:          cfg.Notifier.Topic,
		ClickURL:       cfg.Notifier.ClickURL,
		TimeoutSeconds: cfg.Notifier.TimeoutSeconds,
	}, log)

	// Create and start the websocket hub
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionHub := hub.New(hub.Config{KeepaliveSeconds: cfg.Hub.KeepaliveSeconds}, storage, notif, log)
	go sessionHub.Run(ctx)

	// Create API router
	router := api.NewRouter(sessionHub, storage, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
			os.Exit(1)
		}
	}()

	// Print a pairing QR code so a phone can open the control surface
	if cfg.Server.ShowQR && cfg.Server.PublicURL != "" {
		fmt.Printf("\nScan to open the control surface (%s):\n\n", cfg.Server.PublicURL)
		qrterminal.GenerateWithConfig(cfg.Server.PublicURL, qrterminal.Config{
			Level:     qrterminal.M,
			Writer:    os.Stdout,
			BlackChar: qrterminal.BLACK,
			WhiteChar: qrterminal.WHITE,
			QuietZone: 1,
		})
		fmt.Println()
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop the hub first so connections stop mutating storage
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}
