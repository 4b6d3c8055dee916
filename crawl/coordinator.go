// Package crawl drives the concurrent pagination loop: a fixed pool of
// workers drawing page offsets from a shared allocator, fetching and
// ingesting pages independently until any of them observes the end of the
// feed.
package crawl

import (
	"context"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yh/jffscraper/common"
)

// EndOfFeedSentinel is the phrase the site renders instead of cards once the
// feed is exhausted. Its presence anywhere in a fetched page terminates the
// crawl.
const EndOfFeedSentinel = "as sad as you are"

// PageFetcher maps a page offset to raw markup.
type PageFetcher interface {
	Page(ctx context.Context, offset int) (string, error)
}

// Ingestor consumes all cards of one page in document order, returning how
// many non-filler cards it saw.
type Ingestor interface {
	IngestPage(ctx context.Context, pageHTML string) (int, error)
}

// Coordinator owns the worker pool and the one-shot termination flag.
type Coordinator struct {
	cfg      common.Config
	fetch    PageFetcher
	ingestor Ingestor
	alloc    *OffsetAllocator
	stopped  atomic.Bool
}

// NewCoordinator wires a coordinator from the run configuration.
func NewCoordinator(cfg common.Config, fetch PageFetcher, ingestor Ingestor) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		fetch:    fetch,
		ingestor: ingestor,
		alloc:    NewOffsetAllocator(),
	}
}

// Run starts the worker pool and blocks until every worker has exited.
// Workers stop when the feed is exhausted or the context is cancelled; a
// worker that already started a page finishes it first.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().Int("workers", c.cfg.WorkerCount).Msg("Starting crawl")

	g := new(errgroup.Group)
	for i := 0; i < c.cfg.WorkerCount; i++ {
		workerID := i
		g.Go(func() error {
			c.workerLoop(ctx, workerID)
			return nil
		})
	}
	err := g.Wait()

	log.Info().Msg("Crawl finished, all workers joined")
	return err
}

// Stopped reports whether the termination flag has been raised.
func (c *Coordinator) Stopped() bool {
	return c.stopped.Load()
}

// stop raises the one-shot termination flag. Idempotent; only the first
// caller logs the reason.
func (c *Coordinator) stop(reason string, offset int) {
	if c.stopped.CompareAndSwap(false, true) {
		log.Info().Str("reason", reason).Int("offset", offset).Msg("Stopping crawl")
	}
}

// workerLoop draws offsets until the stop flag or context cancellation is
// observed. The flag is checked at iteration boundaries only, so a worker
// may finish one in-flight page after another worker raised it.
func (c *Coordinator) workerLoop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			log.Debug().Int("worker_id", workerID).Msg("Context cancelled, worker exiting")
			return
		}
		if c.stopped.Load() {
			log.Debug().Int("worker_id", workerID).Msg("Stop flag observed, worker exiting")
			return
		}

		offset := c.alloc.Next()
		c.processPage(ctx, workerID, offset)
	}
}

// processPage runs one full fetch/extract/ingest cycle for a single offset.
// Any failure, including a panic, is logged and swallowed: one bad page must
// never stop the crawl.
func (c *Coordinator) processPage(ctx context.Context, workerID, offset int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("worker_id", workerID).
				Int("offset", offset).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic while processing page")
		}
	}()

	log.Debug().Int("worker_id", workerID).Int("offset", offset).Msg("Fetching page")

	pageHTML, err := c.fetch.Page(ctx, offset)
	if err != nil {
		log.Error().Err(err).Int("offset", offset).Msg("Page fetch failed, moving to next offset")
		return
	}

	if strings.Contains(pageHTML, EndOfFeedSentinel) {
		c.stop("end-of-feed sentinel", offset)
		return
	}

	ingested, err := c.ingestor.IngestPage(ctx, pageHTML)
	if err != nil {
		log.Error().Err(err).Int("offset", offset).Msg("Page ingestion failed, moving to next offset")
		return
	}
	if ingested == 0 {
		// An empty page means the feed ran out without rendering the
		// sentinel; treat it as exhaustion, not a transient condition.
		c.stop("empty page", offset)
		return
	}

	log.Debug().Int("worker_id", workerID).Int("offset", offset).Int("posts", ingested).Msg("Page processed")
}
