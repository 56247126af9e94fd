// Command whisper-server exposes the transcription engine over HTTP: an
// OpenAI-style multipart transcribe endpoint, model management, health and
// Prometheus metrics. The engine chain mirrors the CLI driver but adds a
// concurrency limiter and an optional health-checked fallback backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/whisper-local/internal/api"
	"github.com/houzhh15/whisper-local/internal/config"
	"github.com/houzhh15/whisper-local/internal/engine"
	"github.com/houzhh15/whisper-local/internal/metrics"
	"github.com/houzhh15/whisper-local/internal/models"
	"github.com/houzhh15/whisper-local/pkg/logger"
)

var version = "dev"

func main() {
	var (
		configPath  string
		port        int
		mintSubject string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional; WHISPER_* env vars apply on top)")
	flag.IntVar(&port, "port", 0, "Listen port, overrides server.port from the config")
	flag.StringVar(&mintSubject, "mint-token", "", "Print an access token for the given subject and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logInstance, err := logger.Init(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "whisper-server")

	// Ops helper: sign a bearer token for API clients without starting the server
	if mintSubject != "" {
		if cfg.Security.JWTSecret == "" {
			fmt.Fprintln(os.Stderr, "security.jwt_secret must be set to mint tokens")
			os.Exit(1)
		}
		token, err := api.GenerateToken([]byte(cfg.Security.JWTSecret), mintSubject, cfg.TokenTTL())
		if err != nil {
			fmt.Fprintf(os.Stderr, "token mint failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port, "backend", cfg.Engine.Backend)
	fmt.Println(cfg.PrintConfig())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	serving, fo := buildEngine(cfg, appLogger)
	if serving == nil {
		appLogger.Error("no transcription engine available")
		os.Exit(1)
	}
	defer serving.Close()
	metrics.SetEngineUp(serving.Name(), true)

	// Background health checks drive primary/fallback switchover
	checkCtx, stopChecks := context.WithCancel(context.Background())
	defer stopChecks()
	if fo != nil {
		go fo.Start(checkCtx)
	}

	store := models.NewStore(cfg.Engine.ModelsDir)

	r := api.NewRouter(api.Deps{
		Cfg:      cfg,
		Engine:   serving,
		Failover: fo,
		Store:    store,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("server starting", "addr", cfg.Addr(), "env", cfg.Server.Env, "engine", serving.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}

// buildEngine assembles the serving chain: the primary backend behind a
// concurrency limiter, optionally paired with a fallback backend behind the
// failover controller. A failed primary degrades to the fallback alone; a
// failed fallback leaves the primary unguarded rather than aborting startup.
func buildEngine(cfg *config.Config, appLogger *slog.Logger) (engine.Engine, *engine.Failover) {
	primary, err := engine.New(cfg.PrimaryEngine())
	if err != nil {
		appLogger.Error("primary engine init failed", "backend", cfg.Engine.Backend, "error", err)
		primary = nil
	}

	var serving engine.Engine
	if primary != nil {
		serving = engine.NewLimited(primary, int(cfg.Limits.MaxConcurrent))
	}

	if !cfg.Fallback.Enabled {
		return serving, nil
	}

	fallback, err := engine.New(cfg.FallbackEngine())
	if err != nil {
		appLogger.Warn("fallback engine init failed", "backend", cfg.Fallback.Backend, "error", err)
		return serving, nil
	}
	if serving == nil {
		appLogger.Warn("serving fallback engine only", "backend", fallback.Name())
		return engine.NewLimited(fallback, int(cfg.Limits.MaxConcurrent)), nil
	}

	fo := engine.NewFailover(serving, fallback, cfg.CheckInterval(), cfg.Fallback.FailThreshold)
	return fo, fo
}
