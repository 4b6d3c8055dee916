package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yh/jffscraper/extractor"
	"github.com/yh/jffscraper/model"
)

// SaveText writes a post's text body to a sidecar file with a front-matter
// metadata block, unless a file with the same basename prefix already exists
// and overwriting is off.
func (s *Saver) SaveText(post *model.Post) error {
	log.Info().Str("post", post.Basename).Msg("Saving text")

	folder, err := s.folder(post)
	if err != nil {
		return err
	}
	destPath := filepath.Join(folder, post.Basename) + ".txt"

	matches, _ := filepath.Glob(filepath.Join(folder, extractor.BasenamePrefix(post.Basename)) + "*.txt")
	if !s.cfg.OverwriteExisting && len(matches) > 0 {
		log.Debug().Str("path", destPath).Msg("Text sidecar already on disk, skipping")
		return nil
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "pid: %s\n", post.PID)
	fmt.Fprintf(&b, "mcid: %s\n", post.MCID)
	fmt.Fprintf(&b, "upload: %s\n", post.UploadDateISO)
	fmt.Fprintf(&b, "publish: %s\n", post.PostDateISO)
	fmt.Fprintf(&b, "tags: %s\n", strings.Join(post.Tags, ", "))
	if post.AccessControl != "" {
		fmt.Fprintf(&b, "access_control: %s\n", post.AccessControl)
	}
	if post.StoreURL != "" {
		fmt.Fprintf(&b, "store_url: %s\n", post.StoreURL)
	}
	b.WriteString("---\n\n")
	b.WriteString(post.FullText)

	if err := os.WriteFile(destPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write text sidecar %s: %w", destPath, err)
	}
	return nil
}
