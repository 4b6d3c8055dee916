package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// MetadataFileName is the per-uploader database file name under the save
// root.
const MetadataFileName = "metadata.db"

// Registry hands out one lazily opened Store per database path. Workers for
// the same uploader share a handle; distinct uploaders get isolated
// databases.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates an empty store registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// ForUploader returns the store for one uploader namespace, opening it on
// first use at <saveRoot>/<uploaderID>/metadata.db.
func (r *Registry) ForUploader(saveRoot, uploaderID string) (*Store, error) {
	dir := filepath.Join(saveRoot, uploaderID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploader directory %s: %w", dir, err)
	}
	return r.get(filepath.Join(dir, MetadataFileName))
}

func (r *Registry) get(path string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[path]; ok {
		return s, nil
	}

	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Msg("Opened metadata store")
	r.stores[path] = s
	return s, nil
}

// CloseAll closes every open store. Called once at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for path, s := range r.stores {
		if err := s.Close(); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("Failed to close metadata store")
		}
	}
	r.stores = make(map[string]*Store)
}
