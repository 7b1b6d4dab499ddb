package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/mediahls/internal/database"
	"github.com/jmylchreest/mediahls/internal/hlscache"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <media-file-id>",
	Short: "Drop a media file's persisted prepared-segment blob",
	Long: `Invalidate removes the PreparedMedia row persisted for the given media
file ID. The next request for that ID (whether through "serve" or
"prepare") re-parses the source file from scratch.

This does not touch any in-memory hot cache held by a running "serve"
process; it only affects the persistent store those processes read
through on a cache miss.`,
	Args: cobra.ExactArgs(1),
	RunE: runInvalidate,
}

func init() {
	rootCmd.AddCommand(invalidateCmd)
}

func runInvalidate(_ *cobra.Command, args []string) error {
	logger := slog.Default()
	mediaFileID := args[0]

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

	if err := repo.Delete(ctx, mediaFileID); err != nil {
		return fmt.Errorf("invalidating %s: %w", mediaFileID, err)
	}

	logger.Info("invalidated prepared media", slog.String("media_file_id", mediaFileID))
	fmt.Printf("invalidated %s\n", mediaFileID)

	return nil
}
