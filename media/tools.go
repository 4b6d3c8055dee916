package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yh/jffscraper/common"
)

// Downloader produces one or more encrypted fragment files on disk for a
// media URL.
type Downloader interface {
	Download(ctx context.Context, mediaURL, outputPrefix string) ([]string, error)
}

// VideoTools decrypts and muxes fragment files via an external codec tool.
type VideoTools interface {
	Decrypt(ctx context.Context, path, hexKey string) error
	Mux(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// ExecDownloader shells out to an external segment downloader (yt-dlp by
// default) that writes encrypted fragments next to the given output prefix.
type ExecDownloader struct {
	binary              string
	retries             int
	fragmentConcurrency int
}

// NewDownloader builds the external downloader wrapper from the run
// configuration.
func NewDownloader(cfg common.Config) *ExecDownloader {
	return &ExecDownloader{
		binary:              cfg.DownloaderPath,
		retries:             cfg.DownloadRetries,
		fragmentConcurrency: cfg.FragmentConcurrency,
	}
}

// Download fetches mediaURL, leaving fragment files named
// "<outputPrefix>.f<id>.<ext>", and returns their paths.
func (d *ExecDownloader) Download(ctx context.Context, mediaURL, outputPrefix string) ([]string, error) {
	cmd := exec.CommandContext(ctx, d.binary,
		"--quiet",
		"--no-warnings",
		"--no-progress",
		"--retries", strconv.Itoa(d.retries),
		"--concurrent-fragments", strconv.Itoa(d.fragmentConcurrency),
		"--allow-unplayable-formats",
		"-f", "bv*+ba/b",
		"-o", outputPrefix,
		mediaURL,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("downloader failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	fragments, err := filepath.Glob(outputPrefix + ".f*")
	if err != nil {
		return nil, fmt.Errorf("failed to glob fragments for %s: %w", outputPrefix, err)
	}
	if len(fragments) == 0 {
		return nil, fmt.Errorf("downloader produced no fragments for prefix %s", outputPrefix)
	}

	log.Debug().Int("fragments", len(fragments)).Str("prefix", outputPrefix).Msg("Downloader finished")
	return fragments, nil
}

// FFmpeg wraps the external decrypt/remux tool. All operations are
// stream-copy; nothing is re-encoded.
type FFmpeg struct {
	binary string
}

// NewFFmpeg builds the codec tool wrapper from the run configuration.
func NewFFmpeg(cfg common.Config) *FFmpeg {
	return &FFmpeg{binary: cfg.FFmpegPath}
}

// Decrypt decrypts a fragment in place: the tool writes a "_decrypted"
// sibling which then replaces the original path.
func (f *FFmpeg) Decrypt(ctx context.Context, path, hexKey string) error {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	outPath := fmt.Sprintf("%s_decrypted%s", base, ext)

	cmd := exec.CommandContext(ctx, f.binary,
		"-decryption_key", hexKey,
		"-i", path,
		"-c", "copy",
		"-y",
		outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		return fmt.Errorf("decrypt of %s failed: %w: %s", path, err, strings.TrimSpace(string(out)))
	}

	if err := os.Rename(outPath, path); err != nil {
		return fmt.Errorf("failed to replace %s with decrypted output: %w", path, err)
	}
	return nil
}

// Mux combines one video and one audio fragment into outputPath, truncating
// to the shortest stream and overwriting any partial prior output.
func (f *FFmpeg) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, f.binary,
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		"-y",
		"-shortest",
		outputPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mux to %s failed: %w: %s", outputPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}
