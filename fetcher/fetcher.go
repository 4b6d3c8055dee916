// Package fetcher is the authenticated HTTP boundary of the crawler. It maps
// (credential, optional poster scope, page offset) to raw page markup and
// streams media bytes to disk. Anti-bot evasion and token refresh live
// outside this program; the fetcher only speaks plain HTTP with a browser
// user agent and bounded retries.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yh/jffscraper/common"
)

// Client fetches feed pages and media over HTTP.
type Client struct {
	httpClient *http.Client
	cfg        common.Config
}

// New creates a fetch client from the run configuration.
func New(cfg common.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
	}
}

// PageURL builds the feed URL for one page offset, scoped to a single poster
// when the configuration names one.
func (c *Client) PageURL(offset int) string {
	tmpl := c.cfg.APIURLTemplate
	if c.cfg.PosterID != "" {
		tmpl = c.cfg.APIPosterURLTemplate
	}
	r := strings.NewReplacer(
		"{hash}", c.cfg.UserHash,
		"{poster_id}", c.cfg.PosterID,
		"{seq}", strconv.Itoa(offset),
	)
	return r.Replace(tmpl)
}

// Page fetches the raw markup for one page offset. Transport failures are a
// per-page recoverable condition for the caller.
func (c *Client) Page(ctx context.Context, offset int) (string, error) {
	body, err := c.Get(ctx, c.PageURL(offset))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Get fetches a URL and returns the response body, retrying transient
// failures with backoff. Client errors (4xx) are not retried: for this site
// they mean an expired hash or a revoked asset, and hammering does not help.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to build request: %w", err))
			}
			req.Header.Set("User-Agent", c.cfg.UserAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(fmt.Errorf("request rejected with status %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response body: %w", err)
			}
			return nil
		},
		retry.Attempts(uint(c.cfg.DownloadRetries)),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Uint("attempt", n+1).Str("url", url).Err(err).Msg("Fetch failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Download streams a URL to destPath, writing to a uniquely named temporary
// sibling first and renaming on success so a partially written file can never
// be mistaken for a completed one. Returns the byte count written.
func (c *Client) Download(ctx context.Context, url, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", destPath, err)
	}

	tmpPath := fmt.Sprintf("%s.%s.tmp", destPath, uuid.NewString()[:8])

	var written int64
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to build request: %w", err))
			}
			req.Header.Set("User-Agent", c.cfg.UserAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(fmt.Errorf("download rejected with status %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			out, err := os.Create(tmpPath)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create %s: %w", tmpPath, err))
			}

			written, err = io.Copy(out, resp.Body)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				os.Remove(tmpPath)
				return fmt.Errorf("failed to write %s: %w", tmpPath, err)
			}
			return nil
		},
		retry.Attempts(uint(c.cfg.DownloadRetries)),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Uint("attempt", n+1).Str("url", url).Err(err).Msg("Download failed, retrying")
		}),
	)
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to finalize %s: %w", destPath, err)
	}
	return written, nil
}
