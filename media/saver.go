// Package media downloads, decrypts and persists the assets attached to
// posts. One strategy per post type: photo galleries, DRM video, and text
// sidecars. Every strategy upserts provenance rows in the metadata store
// before bytes move, so the store reflects what was attempted even when a
// download is skipped or fails.
package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yh/jffscraper/common"
	"github.com/yh/jffscraper/fetcher"
	"github.com/yh/jffscraper/model"
	"github.com/yh/jffscraper/store"
)

// Saver orchestrates the per-type media strategies.
type Saver struct {
	cfg        common.Config
	fetch      *fetcher.Client
	stores     *store.Registry
	downloader Downloader
	tools      VideoTools
}

// NewSaver wires a Saver from the run configuration and shared handles.
func NewSaver(cfg common.Config, fetch *fetcher.Client, stores *store.Registry, downloader Downloader, tools VideoTools) *Saver {
	return &Saver{
		cfg:        cfg,
		fetch:      fetch,
		stores:     stores,
		downloader: downloader,
		tools:      tools,
	}
}

// folder ensures and returns the per-uploader, per-type artifact directory.
func (s *Saver) folder(post *model.Post) (string, error) {
	dir := filepath.Join(s.cfg.SavePath, post.UploaderID, string(post.Type))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// storeFor returns the uploader's metadata store, or nil when the post has no
// store reference (a failed post upsert degrades provenance to best-effort
// without blocking downloads).
func (s *Saver) storeFor(post *model.Post) *store.Store {
	if post.StoreID == 0 {
		return nil
	}
	st, err := s.stores.ForUploader(s.cfg.SavePath, post.UploaderID)
	if err != nil {
		return nil
	}
	return st
}
