package media

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/yh/jffscraper/extractor"
	"github.com/yh/jffscraper/model"
)

// SaveVideo runs the DRM video pipeline for one post: parse the playback
// payload, fetch and record the decryption key, download encrypted fragments,
// decrypt them in place, mux the video and audio tracks, and finalize the
// media row. Key material is recorded before the overwrite-skip decision so
// it survives even on runs that download nothing.
func (s *Saver) SaveVideo(ctx context.Context, post *model.Post, card *goquery.Selection) error {
	log.Info().Str("post", post.Basename).Msg("Downloading video")

	folder, err := s.folder(post)
	if err != nil {
		return err
	}
	finalPath := filepath.Join(folder, post.Basename) + ".mp4"

	// A leftover in-progress marker means the previous run died mid-download;
	// only a completed file with no marker counts as done.
	inProgress, _ := filepath.Glob(filepath.Join(folder, fmt.Sprintf("* - %s - *.ytdl", post.PID)))
	completed, _ := filepath.Glob(filepath.Join(folder, fmt.Sprintf("* - %s - *.mp4", post.PID)))
	alreadyDone := len(inProgress) == 0 && len(completed) > 0

	videoBlock := card.Find("div.videoBlock a").First()
	onclick, ok := videoBlock.Attr("onclick")
	if !ok {
		if post.StoreURL == "" {
			log.Warn().Str("post", truncate(post.Basename, 30)).Msg("No playback payload on video post")
		} else {
			log.Info().Str("post", truncate(post.Basename, 30)).Msg("Store-only video post, nothing to download")
		}
		return nil
	}

	payload, err := extractor.ParseVideoPayload(onclick)
	if err != nil {
		return fmt.Errorf("failed to parse playback payload for %s: %w", post.PID, err)
	}

	keyBytes, err := s.fetch.Get(ctx, payload.LicenseURL)
	if err != nil {
		return fmt.Errorf("failed to fetch decryption key for %s: %w", post.PID, err)
	}
	hexKey := hex.EncodeToString(keyBytes)

	st := s.storeFor(post)
	var mediaID int64
	if st != nil {
		row := &model.Media{
			PostID:        post.StoreID,
			MediaType:     model.MediaVideo,
			URL:           payload.URL,
			Quality:       payload.Quality,
			LicenseURL:    payload.LicenseURL,
			KID:           payload.KID,
			DecryptionKey: hexKey,
		}
		mediaID, err = st.UpsertMedia(row)
		if err != nil {
			log.Error().Err(err).Str("pid", post.PID).Msg("Failed to record video media row")
			mediaID = 0
		}
	}

	if !s.cfg.OverwriteExisting && alreadyDone {
		// The basename can drift between runs when the template or post text
		// changes; adopt the prior artifact under the current name.
		if completed[0] != finalPath {
			if err := os.Rename(completed[0], finalPath); err != nil {
				return fmt.Errorf("failed to adopt prior download %s: %w", completed[0], err)
			}
		}
		log.Debug().Str("path", finalPath).Msg("Video already on disk, skipping download")
		return nil
	}

	fragmentPrefix := filepath.Join(folder, post.PID)
	fragments, err := s.downloader.Download(ctx, payload.URL, fragmentPrefix)
	if err != nil {
		return fmt.Errorf("fragment download for %s failed: %w", post.PID, err)
	}

	for _, fragment := range fragments {
		if err := s.tools.Decrypt(ctx, fragment, hexKey); err != nil {
			return fmt.Errorf("decrypt failed for %s: %w", post.PID, err)
		}
	}

	var videoTrack, audioTrack string
	for _, fragment := range fragments {
		switch {
		case strings.HasSuffix(fragment, ".mp4") && videoTrack == "":
			videoTrack = fragment
		case (strings.HasSuffix(fragment, ".m4a") || strings.HasSuffix(fragment, ".m4b")) && audioTrack == "":
			audioTrack = fragment
		}
	}
	if videoTrack == "" || audioTrack == "" {
		return fmt.Errorf("post %s: expected one video and one audio fragment, got %v", post.PID, fragments)
	}

	if err := s.tools.Mux(ctx, videoTrack, audioTrack, finalPath); err != nil {
		return fmt.Errorf("mux failed for %s: %w", post.PID, err)
	}

	for _, fragment := range fragments {
		if err := os.Remove(fragment); err != nil {
			log.Warn().Err(err).Str("fragment", fragment).Msg("Failed to remove fragment")
		}
	}

	if st != nil && mediaID != 0 {
		info, err := os.Stat(finalPath)
		if err != nil {
			return fmt.Errorf("failed to stat muxed output %s: %w", finalPath, err)
		}
		if err := st.UpdateMediaFile(mediaID, finalPath, info.Size()); err != nil {
			log.Error().Err(err).Str("pid", post.PID).Msg("Failed to finalize video media row")
		}
	}

	log.Info().Str("path", finalPath).Msg("Video saved")
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
