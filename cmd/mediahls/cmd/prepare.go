package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/mediahls/internal/database"
	"github.com/jmylchreest/mediahls/internal/hlscache"
	"github.com/jmylchreest/mediahls/internal/source"
)

var prepareMediaFileID string

var prepareCmd = &cobra.Command{
	Use:   "prepare <source-path>",
	Short: "Precompute and persist HLS segment metadata for a media file",
	Long: `Prepare runs the same parse/plan/build pipeline "serve" runs lazily on
first request, but does it eagerly and unconditionally: it always parses
the source file and overwrites any previously persisted PreparedMedia for
the resulting media file ID, rather than reusing a cached build.

<source-path> is relative to storage.base_dir.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrepare,
}

func init() {
	rootCmd.AddCommand(prepareCmd)
	prepareCmd.Flags().StringVar(&prepareMediaFileID, "media-file-id", "", "media file ID to key the prepared blob under (default: the source path)")
}

func runPrepare(_ *cobra.Command, args []string) error {
	logger := slog.Default()
	relPath := args[0]

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
	ctx := context.Background()
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating prepared media store: %w", err)
	}

	sources, err := source.NewStore(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing source store: %w", err)
	}

	mediaFileID := prepareMediaFileID
	if mediaFileID == "" {
		mediaFileID = relPath
	}

	identity, err := sources.Identity(relPath)
	if err != nil {
		return fmt.Errorf("resolving source identity: %w", err)
	}

	src, err := sources.Open(relPath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	pm, err := hlscache.Build(mediaFileID, identity, src, cfg.HLS.TargetSegmentDuration.Duration().Seconds())
	if err != nil {
		return fmt.Errorf("preparing media: %w", err)
	}

	if err := repo.Put(ctx, pm); err != nil {
		return fmt.Errorf("persisting prepared media: %w", err)
	}

	logger.Info("prepared media file",
		slog.String("media_file_id", mediaFileID),
		slog.String("source_path", relPath),
		slog.Int("segment_count", len(pm.Segments)),
		slog.Float64("duration_secs", pm.DurationSecs),
	)
	fmt.Printf("prepared %s: %d segments, %.2fs\n", mediaFileID, len(pm.Segments), pm.DurationSecs)

	return nil
}
