package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/config"
)

// Version is reported at startup and in the exchange User-Agent.
const Version = "1.0.0"

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting session keeper", logging.Field{Key: "version", Value: Version})

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize application
	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Server.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	if err := app.Login.Resume(ctx); err != nil {
		logging.Warn("Could not resume stored session", logging.Err(err))
	}
	if app.Login.IsLoggedIn() {
		logging.Info("User session resumed")
	} else {
		logging.Info("Not logged in, open the login page to sign in",
			logging.String("url", "http://"+app.Server.Addr()+"/login"),
		)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	logging.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Session keeper exited")
	return nil
}
