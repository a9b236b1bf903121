package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/unalkalkan/epub2md-web/internal/api"
	"github.com/unalkalkan/epub2md-web/internal/archive"
	"github.com/unalkalkan/epub2md-web/internal/convert"
	"github.com/unalkalkan/epub2md-web/internal/cover"
	"github.com/unalkalkan/epub2md-web/internal/epubgen"
	"github.com/unalkalkan/epub2md-web/internal/health"
	"github.com/unalkalkan/epub2md-web/internal/storage"
	"github.com/unalkalkan/epub2md-web/internal/workspace"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "override the configured listen port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg.Log, os.Stderr)
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))

	logger.Info("starting epub2md-web", "version", version)

	// Artifact store for generated EPUBs
	artifacts, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage adapter: %w", err)
	}
	defer artifacts.Close()
	logger.Info("storage adapter initialized", "adapter", cfg.Storage.Adapter)

	ws, err := workspace.New(workspace.Options{
		UploadsDir:   cfg.Workspace.UploadsDir,
		OutputsDir:   cfg.Workspace.OutputsDir,
		Retention:    time.Duration(cfg.Workspace.RetentionMinutes) * time.Minute,
		CleanupDelay: time.Duration(cfg.Workspace.CleanupDelaySeconds) * time.Second,
		Artifacts:    artifacts,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	reconciler := cover.NewReconciler(cfg.Cover.CanonicalName, cfg.Cover.JPEGQuality, logger)
	generator := epubgen.NewGenerator(epubgen.Options{
		HighlightStyle: cfg.EPUB.HighlightStyle,
		DefaultAuthor:  cfg.EPUB.DefaultAuthor,
	}, logger)
	orch := convert.NewOrchestrator(ws, reconciler, generator, artifacts, convert.Options{
		Command: cfg.Converter.Command,
		Args:    cfg.Converter.Args,
		Timeout: time.Duration(cfg.Converter.TimeoutSeconds) * time.Second,
		Runner:  convert.ExecRunner{MaxOutput: cfg.Converter.MaxOutputBytes},
	}, logger)
	assembler := archive.NewAssembler(cfg.Cover.CanonicalName, logger)

	healthHandler := health.NewHandler(version)
	registerChecks(healthHandler, ws, artifacts, orch)

	conversionHandler := api.NewConversionHandler(ws, orch, assembler, artifacts,
		int64(cfg.Server.MaxUploadMB)<<20, logger)
	router := api.NewRouter(api.RouterOptions{
		Conversion: conversionHandler,
		Health:     healthHandler,
		Info:       infoHandler(version, cfg),
		StaticDir:  cfg.Server.StaticDir,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		interval := time.Duration(cfg.Workspace.SweepIntervalMinutes) * time.Minute
		if err := ws.Run(ctx, interval); err != nil {
			logger.Error("sweeper stopped", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func registerChecks(h *health.Handler, ws *workspace.Workspace, artifacts storage.Adapter, orch *convert.Orchestrator) {
	h.Register("workspace", func(ctx context.Context) (health.Status, error) {
		for _, dir := range []string{ws.UploadsDir(), ws.OutputsDir()} {
			f, err := os.CreateTemp(dir, ".healthcheck-*")
			if err != nil {
				return health.StatusUnhealthy, err
			}
			f.Close()
			os.Remove(f.Name())
		}
		return health.StatusHealthy, nil
	})

	h.Register("storage", func(ctx context.Context) (health.Status, error) {
		// Only connectivity matters here
		if _, err := artifacts.Exists(ctx, ".healthcheck"); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})

	// Reverse conversion still works without the tool
	h.RegisterOptional("converter", func(ctx context.Context) (health.Status, error) {
		if err := orch.CheckTool(ctx); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})
}

// infoHandler returns basic server information
func infoHandler(version string, cfg *types.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"version":         version,
			"storage_adapter": cfg.Storage.Adapter,
			"converter":       cfg.Converter.Command,
			"max_upload_mb":   cfg.Server.MaxUploadMB,
			"cover":           cfg.Cover.CanonicalName,
		})
	}
}
