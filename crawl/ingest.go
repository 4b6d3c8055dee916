package crawl

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/yh/jffscraper/common"
	"github.com/yh/jffscraper/extractor"
	"github.com/yh/jffscraper/media"
	"github.com/yh/jffscraper/model"
	"github.com/yh/jffscraper/store"
)

// PageIngestor extracts and persists every post on one page. Posts within a
// page are processed sequentially in document order by the worker that
// fetched the page.
type PageIngestor struct {
	cfg    common.Config
	ex     *extractor.Extractor
	stores *store.Registry
	saver  *media.Saver
}

// NewPageIngestor wires an ingestor from the run configuration and shared
// handles.
func NewPageIngestor(cfg common.Config, ex *extractor.Extractor, stores *store.Registry, saver *media.Saver) *PageIngestor {
	return &PageIngestor{cfg: cfg, ex: ex, stores: stores, saver: saver}
}

// IngestPage parses one page's markup and ingests each card. Returns the
// number of non-filler cards found; zero tells the coordinator the feed is
// exhausted.
func (p *PageIngestor) IngestPage(ctx context.Context, pageHTML string) (int, error) {
	cards, err := extractor.Cards(pageHTML)
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, card := range cards {
		if extractor.IsFiller(card) {
			continue
		}
		ingested++
		p.ingestCard(ctx, card)
	}
	return ingested, nil
}

// ingestCard runs the per-post pipeline: extract, upsert metadata, dispatch
// the media strategy. Every failure is logged at the card boundary and never
// aborts the rest of the page.
func (p *PageIngestor) ingestCard(ctx context.Context, card *goquery.Selection) {
	post, err := p.ex.Extract(card)
	if err != nil {
		log.Error().Err(err).Str("fragment", extractor.RawHTML(card)).Msg("Failed to extract post, skipping card")
		return
	}

	p.persistPost(post, card)

	switch post.Type {
	case model.TypeShoutout:
		// Shoutouts promote other accounts; nothing to archive.
	case model.TypeVideo:
		if err := p.saver.SaveVideo(ctx, post, card); err != nil {
			log.Error().Err(err).Str("pid", post.PID).Msg("Video save failed")
		}
		p.maybeSaveText(post)
	case model.TypePhoto:
		if err := p.saver.SavePhoto(ctx, post, card); err != nil {
			log.Error().Err(err).Str("pid", post.PID).Msg("Photo save failed")
		}
		p.maybeSaveText(post)
	case model.TypeText:
		p.maybeSaveText(post)
	default:
		log.Warn().Str("pid", post.PID).Msg("Unclassified post, no media action taken")
	}

	if post.PostDate == model.UnknownDate {
		// Carry the whole fragment in one event so concurrent workers cannot
		// interleave the dump.
		log.Warn().
			Str("pid", post.PID).
			Str("fragment", extractor.RawHTML(card)).
			Msg("Post date could not be resolved, dumping fragment for diagnosis")
	}
}

// persistPost upserts the post row and stamps its surrogate id. A store
// failure degrades to a nil store reference: the post is still processed,
// media provenance becomes best-effort.
func (p *PageIngestor) persistPost(post *model.Post, card *goquery.Selection) {
	st, err := p.stores.ForUploader(p.cfg.SavePath, post.UploaderID)
	if err != nil {
		log.Error().Err(err).Str("uploader", post.UploaderID).Str("pid", post.PID).Msg("Failed to open metadata store, continuing without store reference")
		return
	}

	rawHTML := ""
	if p.cfg.SaveRawHTML {
		rawHTML = extractor.RawHTML(card)
	}

	id, err := st.UpsertPost(post, rawHTML)
	if err != nil {
		log.Error().Err(err).Str("pid", post.PID).Msg("Failed to upsert post, continuing without store reference")
		return
	}
	post.StoreID = id
}

// maybeSaveText writes the text sidecar when configured.
func (p *PageIngestor) maybeSaveText(post *model.Post) {
	if !p.cfg.SaveFullText {
		return
	}
	if err := p.saver.SaveText(post); err != nil {
		log.Error().Err(err).Str("pid", post.PID).Msg("Text sidecar save failed")
	}
}
