// Weekly plan companion daemon: cache, memory and notification engines behind an HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/weeklyplan/weeklyplan/internal/api"
	"github.com/weeklyplan/weeklyplan/internal/app"
	"github.com/weeklyplan/weeklyplan/internal/config"
	"github.com/weeklyplan/weeklyplan/internal/logging"
)

var (
	configPath string
	dataDir    string
	port       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "weeklyplan",
		Short: "Weekly plan companion daemon",
		RunE:  runDaemon,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (JSON or YAML, default <data-dir>/config.json)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetColor(term.IsTerminal(int(os.Stdout.Fd())))
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	log := logging.WithField("component", "daemon")

	log.Info("starting weekly plan companion (storage=%s, upstream=%s)", cfg.Storage.Backend, cfg.Upstream.BaseURL)
	if cfg.Upstream.Token == "" {
		log.Warn("WEEKLYPLAN_API_TOKEN not set - upstream requests will be unauthenticated")
	}

	a, err := app.New(cfg, app.Options{Logger: logging.Default()})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.New(api.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		App:            a,
		Logger:         logging.Default(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("server shutdown: %v", err)
		}
		cancel()
	}()

	// Start server (blocks)
	log.Info("notification bridge at ws://localhost:%d/ws", cfg.Server.Port)
	return server.Start()
}
