package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/yh/jffscraper/extractor"
	"github.com/yh/jffscraper/model"
)

// SavePhoto downloads every image in a photo post's gallery. Each image is
// handled independently: a failed download is logged and never aborts its
// siblings. Media rows are upserted even for images whose bytes are already
// cached on disk, so metadata stays current across re-runs.
func (s *Saver) SavePhoto(ctx context.Context, post *model.Post, card *goquery.Selection) error {
	log.Info().Str("post", post.Basename).Msg("Downloading photo")

	images := card.Find("div.imageGallery.galleryLarge img.expandable")
	if images.Length() == 0 {
		// Single-image posts render without the gallery wrapper.
		images = card.Find("img.expandable").First()
	}
	if images.Length() == 0 {
		return fmt.Errorf("photo post %s has no image elements", post.PID)
	}

	folder, err := s.folder(post)
	if err != nil {
		return err
	}
	st := s.storeFor(post)

	images.Each(func(i int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok {
			src, ok = img.Attr("data-lazy")
		}
		if !ok {
			return
		}

		ext := src
		if dot := strings.LastIndex(src, "."); dot != -1 {
			ext = src[dot+1:]
		}

		destPath := filepath.Join(folder, fmt.Sprintf("%s.%02d.%s", post.Basename, i, ext))

		if st != nil {
			row := &model.Media{PostID: post.StoreID, MediaType: model.MediaPhoto, URL: src}
			if _, err := st.UpsertMedia(row); err != nil {
				log.Error().Err(err).Str("pid", post.PID).Str("url", src).Msg("Failed to record photo media row")
			}
		}

		pattern := filepath.Join(folder, extractor.BasenamePrefix(post.Basename)) + fmt.Sprintf("*.%02d.%s", i, ext)
		matches, _ := filepath.Glob(pattern)
		if !s.cfg.OverwriteExisting && len(matches) > 0 {
			log.Debug().Str("path", destPath).Msg("Photo already on disk, skipping download")
			return
		}

		size, err := s.fetch.Download(ctx, src, destPath)
		if err != nil {
			log.Error().Err(err).Str("pid", post.PID).Str("url", src).Msg("Photo download failed")
			return
		}

		if st != nil {
			id, err := st.GetMediaID(post.StoreID, model.MediaPhoto, src)
			if err == nil && id != 0 {
				if err := st.UpdateMediaFile(id, destPath, size); err != nil {
					log.Error().Err(err).Str("pid", post.PID).Msg("Failed to finalize photo media row")
				}
			}
		}

		log.Debug().Str("path", destPath).Int64("bytes", size).Msg("Photo saved")
	})

	return nil
}
