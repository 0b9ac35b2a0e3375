package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rura/config"
	"rura/db"
	"rura/identity"
	"rura/logging"
	"rura/metrics"
	"rura/server"
)

func main() {
	cfg := config.Defaults()
	var overlay config.FlagOverlay

	rootCmd := &cobra.Command{
		Use:   "rura",
		Short: "E2EE direct-messaging server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &overlay, cfg)
		},
	}
	config.BindFlags(rootCmd, cfg, &overlay)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, overlay *config.FlagOverlay, cfg config.Config) error {
	configPath := overlay.ConfigPath
	if v, ok := os.LookupEnv("RURA_CONFIG"); ok && !cmd.Flags().Changed("config") {
		configPath = v
	}
	if err := config.LoadYAMLFile(configPath, &cfg); err != nil {
		return err
	}
	config.ApplyEnv(&cfg)
	config.ApplyChangedFlags(cmd, *overlay, &cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	store := identity.NewSQLiteStore(database)
	if err := store.Init(); err != nil {
		return fmt.Errorf("init identity store: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promRegistry)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr, promRegistry); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	srv := server.New(server.Config{RequireE2EE: cfg.RequireE2EE}, store, logger, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown signal received")
		cancel()
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("listening", zap.String("addr", addr))
	if err := srv.Listen(ctx, addr, tlsCfg); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("shut down cleanly")
	return nil
}
