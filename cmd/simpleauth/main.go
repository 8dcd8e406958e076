package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/zix99/simple-auth/pkg/config"
	"github.com/zix99/simple-auth/pkg/router"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Usage = config.Usage(flag.Usage)
	flag.Parse()

	loadEnvFile()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	slog.Info("Starting simple-auth", "issuer", cfg.Issuer, "store", cfg.Store.Driver, "code_store", cfg.Store.CodeStoreDriver())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := initializeServices(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize services", "err", err)
		os.Exit(1)
	}
	defer services.Close()

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	routes, err := services.routerConfig(cfg)
	if err != nil {
		slog.Error("Failed to configure routes", "err", err)
		os.Exit(1)
	}
	router.SetupRoutes(server.R, routes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return services.reaper.Run(gctx)
	})

	slog.Info("simple-auth ready",
		"oauth2", cfg.BaseURL+cfg.APIPrefix+"/oauth2",
		"metadata", cfg.BaseURL+"/.well-known/oauth-authorization-server")
	server.Run()

	cancel()
	if err := g.Wait(); err != nil {
		slog.Error("Background task failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadEnvFile loads a .env file next to the executable or in the working directory
func loadEnvFile() {
	candidates := []string{".env"}
	if execPath, err := os.Executable(); err == nil {
		candidates = append([]string{filepath.Join(filepath.Dir(execPath), ".env")}, candidates...)
	}
	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		slog.Info("Loading configuration from .env file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("Failed to load .env file", "err", err)
		}
		return
	}
}
