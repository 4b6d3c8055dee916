package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yh/jffscraper/common"
	"github.com/yh/jffscraper/crawl"
	"github.com/yh/jffscraper/extractor"
	"github.com/yh/jffscraper/fetcher"
	"github.com/yh/jffscraper/media"
	"github.com/yh/jffscraper/store"
)

var (
	configPath  string
	workerCount int
)

var rootCmd = &cobra.Command{
	Use:   "jffscraper [user-hash] [poster-id]",
	Short: "Archive a feed's posts and media into per-uploader stores",
	Long: `jffscraper crawls a paginated content feed with a pool of workers,
extracts post records from the embedded markup, downloads and decrypts the
attached media, and persists metadata into a per-uploader sqlite store.

Positional arguments override the config file: the first is the account user
hash, the second an optional poster ID restricting the crawl to one uploader.`,
	Args: cobra.MaximumNArgs(2),
	RunE: run,
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the config file")
	rootCmd.Flags().IntVar(&workerCount, "workers", 0, "Override the configured worker count")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}

	cfg.ApplyArgs(args)
	if workerCount > 0 {
		cfg.WorkerCount = workerCount
	}

	if err := cfg.Validate(); err != nil {
		// Startup failure: report and exit before any crawl work begins.
		return err
	}

	crawlID := common.GenerateCrawlID()
	log.Info().Str("crawl_id", crawlID).Str("hash", cfg.UserHash).Msg("Starting scraper")
	if cfg.PosterID != "" {
		log.Info().Str("poster_id", cfg.PosterID).Msg("Crawl scoped to a single poster")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := store.NewRegistry()
	defer registry.CloseAll()

	fetch := fetcher.New(cfg)
	saver := media.NewSaver(cfg, fetch, registry, media.NewDownloader(cfg), media.NewFFmpeg(cfg))
	ingestor := crawl.NewPageIngestor(cfg, extractor.New(cfg), registry, saver)
	coordinator := crawl.NewCoordinator(cfg, fetch, ingestor)

	if err := coordinator.Run(ctx); err != nil {
		return err
	}

	if ctx.Err() != nil {
		log.Warn().Msg("Crawl interrupted by signal")
		return nil
	}

	log.Info().Msg("No more posts to parse. Exiting.")
	log.Info().Msg("If nothing was downloaded, the user hash may be expired or invalid.")
	return nil
}
