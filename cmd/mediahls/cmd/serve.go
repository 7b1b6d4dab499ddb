package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mediahls/internal/config"
	"github.com/jmylchreest/mediahls/internal/database"
	"github.com/jmylchreest/mediahls/internal/health"
	"github.com/jmylchreest/mediahls/internal/hlscache"
	"github.com/jmylchreest/mediahls/internal/hlsserve"
	"github.com/jmylchreest/mediahls/internal/httpmiddleware"
	"github.com/jmylchreest/mediahls/internal/source"
	"github.com/jmylchreest/mediahls/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mediahls HLS server",
	Long: `Start the mediahls HTTP server.

The server serves three resources per prepared media file:
- GET /hls/{mediaFileID}/index.m3u8  the variant playlist
- GET /hls/{mediaFileID}/init.mp4    the fragmented-MP4 init segment
- GET /hls/{mediaFileID}/{segment}   a precomputed media segment

plus GET /healthz for process and database health.

A media file is prepared lazily on first request and cached both
in-memory and in the database; see "mediahls prepare" to warm the
cache ahead of time.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "mediahls.db", "Database DSN")
	serveCmd.Flags().String("media-dir", "./data", "Base directory media file paths resolve under")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("media-dir"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := loadConfigFromViper()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	repo := hlscache.NewRepository(db.DB, cfg.HLS.CompressBlobs)
	if err := repo.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrating prepared media store: %w", err)
	}

	sources, err := source.NewStore(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing source store: %w", err)
	}

	cache := hlscache.NewCache(repo)

	sweeper := hlscache.NewSweeper(cache, cfg.HLS.MaxInMemoryEntries, logger)
	cache.OnStore = sweeper.Track
	if _, err := sweeper.Start(context.Background(), fmt.Sprintf("@every %s", cfg.HLS.CacheSweepInterval.Duration())); err != nil {
		return fmt.Errorf("starting cache sweeper: %w", err)
	}
	defer sweeper.Stop()

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(httpmiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)

	humaConfig := huma.DefaultConfig("mediahls API", version.Version)
	humaConfig.Info.Description = "Zero-copy HLS preparation and serving engine"
	api := humachi.New(router, humaConfig)

	handler := hlsserve.NewHandler(cache, sources, cfg.HLS.TargetSegmentDuration.Duration().Seconds(), logger)
	// Huma first, raw chi routes second: the raw handlers must overwrite
	// the doc-only playlist/init registrations so streamed bodies bypass
	// huma's marshaling.
	handler.Register(api)
	handler.RegisterFileServer(router)

	healthHandler := health.NewHandler(version.Version, db.DB)
	healthHandler.Register(api)

	addr := cfg.Server.Address()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting mediahls server",
			slog.String("address", addr),
			slog.String("version", version.Version),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("starting server: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		logger.Info("shutting down mediahls server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errChan:
		return err
	}
}

// loadConfigFromViper builds a *config.Config from the global viper
// instance root.go's initConfig already populated (defaults, config file,
// env vars, and this command's --host/--port/--database-dsn/--media-dir
// flag bindings), then validates it the same way config.Load would.
func loadConfigFromViper() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
