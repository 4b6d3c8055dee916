package crawl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yh/jffscraper/common"
	"github.com/yh/jffscraper/extractor"
	"github.com/yh/jffscraper/fetcher"
	"github.com/yh/jffscraper/media"
	"github.com/yh/jffscraper/store"
)

// base64("post-12345") and base64("ABC-MC-1700000000000").
const (
	ingestPID  = "cG9zdC0xMjM0NQ=="
	ingestMCID = "QUJDLU1DLTE3MDAwMDAwMDAwMDA="
)

func ingestConfig(saveRoot string) common.Config {
	return common.Config{
		BaseURL:         "https://justfor.fans/",
		SavePath:        saveRoot,
		FileNameFormat:  "{name} - {post_date} - {post_id} - {desc}",
		SaveFullText:    true,
		DownloadRetries: 2,
		RequestTimeout:  5 * time.Second,
	}
}

func newTestIngestor(cfg common.Config, stores *store.Registry) *PageIngestor {
	ex := extractor.New(cfg)
	fetch := fetcher.New(cfg)
	saver := media.NewSaver(cfg, fetch, stores, nil, nil)
	return NewPageIngestor(cfg, ex, stores, saver)
}

func textCardPage(classes, inner string) string {
	return fmt.Sprintf(`<html><body>
		<div class="mbsc-card jffPostClass %s" data-pid="%s">%s</div>
	</body></html>`, classes, ingestPID, inner)
}

const textCardInner = `
	<h5 class="mbsc-card-title mbsc-bold"><span onclick="location.href='/coolguy'">Cool Guy</span></h5>
	<div class="mbsc-card-subtitle" onclick="location.href='/viewpost.php?Post=` + ingestMCID + `'">November 14, 2023, 10:13 PM</div>
	<div class="fr-view">Hello</div>`

func TestIngestTextPost(t *testing.T) {
	root := t.TempDir()
	stores := store.NewRegistry()
	defer stores.CloseAll()

	p := newTestIngestor(ingestConfig(root), stores)

	count, err := p.IngestPage(context.Background(), textCardPage("text", textCardInner))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Exactly one post row under the uploader's namespace.
	st, err := stores.ForUploader(root, "coolguy")
	require.NoError(t, err)
	posts, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, 1, posts)

	id, err := st.GetPostID("post-12345")
	require.NoError(t, err)
	assert.NotZero(t, id)

	// And exactly one text sidecar, with the body below the front matter.
	matches, err := filepath.Glob(filepath.Join(root, "coolguy", "text", "*.txt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	parts := strings.SplitN(string(content), "---\n\n", 2)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "pid: post-12345")
	assert.Equal(t, "Hello", parts[1])
}

func TestIngestPageIsIdempotent(t *testing.T) {
	root := t.TempDir()
	stores := store.NewRegistry()
	defer stores.CloseAll()

	p := newTestIngestor(ingestConfig(root), stores)
	page := textCardPage("text", textCardInner)

	for i := 0; i < 2; i++ {
		count, err := p.IngestPage(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}

	st, err := stores.ForUploader(root, "coolguy")
	require.NoError(t, err)
	posts, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, 1, posts, "re-crawling a page must not duplicate rows")

	matches, err := filepath.Glob(filepath.Join(root, "coolguy", "text", "*.txt"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestIngestSkipsFillerCards(t *testing.T) {
	root := t.TempDir()
	stores := store.NewRegistry()
	defer stores.CloseAll()

	p := newTestIngestor(ingestConfig(root), stores)

	page := fmt.Sprintf(`<html><body>
		<div class="mbsc-card jffPostClass text donotremove" data-pid="%s">%s</div>
	</body></html>`, ingestPID, textCardInner)

	count, err := p.IngestPage(context.Background(), page)
	require.NoError(t, err)
	assert.Zero(t, count, "filler cards do not count toward page content")
}

func TestIngestSkipsMalformedCard(t *testing.T) {
	root := t.TempDir()
	stores := store.NewRegistry()
	defer stores.CloseAll()

	p := newTestIngestor(ingestConfig(root), stores)

	// One card without a pid, one good card: the bad one is logged and
	// skipped, the good one lands.
	page := fmt.Sprintf(`<html><body>
		<div class="mbsc-card jffPostClass text">%s</div>
		<div class="mbsc-card jffPostClass text" data-pid="%s">%s</div>
	</body></html>`, textCardInner, ingestPID, textCardInner)

	count, err := p.IngestPage(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "malformed cards still count as page content")

	st, err := stores.ForUploader(root, "coolguy")
	require.NoError(t, err)
	posts, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, 1, posts)
}

func TestIngestShoutoutHasNoArtifacts(t *testing.T) {
	root := t.TempDir()
	stores := store.NewRegistry()
	defer stores.CloseAll()

	p := newTestIngestor(ingestConfig(root), stores)

	count, err := p.IngestPage(context.Background(), textCardPage("shoutout", textCardInner))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The post row is kept, but no files are written for shoutouts.
	st, err := stores.ForUploader(root, "coolguy")
	require.NoError(t, err)
	posts, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, 1, posts)

	matches, err := filepath.Glob(filepath.Join(root, "coolguy", "*", "*"))
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, store.MetadataFileName, filepath.Base(m))
	}
}
