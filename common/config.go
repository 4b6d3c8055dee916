package common

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable for one crawl run. It is built once at startup
// and passed explicitly into each component constructor; nothing reads
// configuration globally after that.
type Config struct {
	// Authentication and scope.
	UserHash string
	PosterID string

	// Page URL templates. Placeholders: {hash}, {seq} and, for the scoped
	// template, {poster_id}.
	APIURLTemplate       string
	APIPosterURLTemplate string

	// BaseURL resolves relative links found in markup (store buttons, post
	// permalinks).
	BaseURL string

	SavePath       string
	FileNameFormat string

	OverwriteExisting bool
	SaveFullText      bool
	SaveRawHTML       bool

	WorkerCount         int
	FragmentConcurrency int
	DownloadRetries     int

	DownloaderPath string
	FFmpegPath     string

	UserAgent      string
	RequestTimeout time.Duration
}

// LoadConfig reads the named config file (viper format, yaml by convention)
// and materializes a Config with defaults applied. A missing file is not an
// error: every value can come from defaults plus command-line arguments.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("api.url", "https://justfor.fans/home.php?tab=following&hash={hash}&start={seq}")
	v.SetDefault("api.poster_url", "https://justfor.fans/{poster_id}?hash={hash}&start={seq}")
	v.SetDefault("api.base_url", "https://justfor.fans/")
	v.SetDefault("paths.save_path", "downloads")
	v.SetDefault("general.file_name_format", "{name} - {post_date} - {post_id} - {desc}")
	v.SetDefault("general.overwrite_existing", false)
	v.SetDefault("general.save_full_text", true)
	v.SetDefault("general.save_raw_html", false)
	v.SetDefault("general.worker_count", 4)
	v.SetDefault("general.fragment_concurrency", 8)
	v.SetDefault("general.download_retries", 10)
	v.SetDefault("tools.downloader", "yt-dlp")
	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Linux; Android 13) JFFScraper/1.0")
	v.SetDefault("http.timeout_seconds", 60)

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults and CLI arguments; a file
		// that exists but cannot be parsed is fatal.
		if _, statErr := os.Stat(path); statErr == nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := Config{
		UserHash:             v.GetString("auth.user_hash"),
		PosterID:             v.GetString("poster.poster_id"),
		APIURLTemplate:       v.GetString("api.url"),
		APIPosterURLTemplate: v.GetString("api.poster_url"),
		BaseURL:              v.GetString("api.base_url"),
		SavePath:             v.GetString("paths.save_path"),
		FileNameFormat:       v.GetString("general.file_name_format"),
		OverwriteExisting:    v.GetBool("general.overwrite_existing"),
		SaveFullText:         v.GetBool("general.save_full_text"),
		SaveRawHTML:          v.GetBool("general.save_raw_html"),
		WorkerCount:          v.GetInt("general.worker_count"),
		FragmentConcurrency:  v.GetInt("general.fragment_concurrency"),
		DownloadRetries:      v.GetInt("general.download_retries"),
		DownloaderPath:       v.GetString("tools.downloader"),
		FFmpegPath:           v.GetString("tools.ffmpeg"),
		UserAgent:            v.GetString("http.user_agent"),
		RequestTimeout:       time.Duration(v.GetInt("http.timeout_seconds")) * time.Second,
	}

	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	return cfg, nil
}

// ApplyArgs overrides credential and scope from positional command-line
// arguments: args[0] is the user hash, args[1] the poster ID.
func (c *Config) ApplyArgs(args []string) {
	if len(args) >= 1 && args[0] != "" {
		c.UserHash = args[0]
	}
	if len(args) >= 2 && args[1] != "" {
		c.PosterID = args[1]
	}
}

// Validate reports startup errors that must abort before any crawl work.
func (c *Config) Validate() error {
	if c.UserHash == "" {
		return fmt.Errorf("no user hash configured: set auth.user_hash in the config file or pass it as the first argument")
	}
	return nil
}

// GenerateCrawlID generates a unique identifier based on the current
// timestamp, formatted as "YYYYMMDDHHMMSS".
func GenerateCrawlID() string {
	return time.Now().Format("20060102150405")
}
