package media

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/yh/jffscraper/common"
	"github.com/yh/jffscraper/fetcher"
	"github.com/yh/jffscraper/model"
	"github.com/yh/jffscraper/store"
)

func testMediaConfig(saveRoot string) common.Config {
	return common.Config{
		SavePath:        saveRoot,
		DownloadRetries: 2,
		RequestTimeout:  5 * time.Second,
		UserAgent:       "test-agent",
	}
}

// testCard parses a post fragment and returns its card selection.
func testCard(t *testing.T, inner string) *goquery.Selection {
	t.Helper()
	page := fmt.Sprintf(`<html><body><div class="mbsc-card jffPostClass">%s</div></body></html>`, inner)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	card := doc.Find("div.mbsc-card")
	require.Equal(t, 1, card.Length())
	return card
}

// persistedPost stores a post and returns it with its StoreID attached,
// mirroring what ingestion does before media work starts.
func persistedPost(t *testing.T, stores *store.Registry, saveRoot string, post *model.Post) *model.Post {
	t.Helper()
	st, err := stores.ForUploader(saveRoot, post.UploaderID)
	require.NoError(t, err)
	id, err := st.UpsertPost(post, "")
	require.NoError(t, err)
	post.StoreID = id
	return post
}

// fakeVideoDownloader fabricates encrypted track fragments on disk the way the
// external downloader would.
type fakeVideoDownloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeVideoDownloader) Download(_ context.Context, _ string, outputPrefix string) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	video := outputPrefix + ".f137.mp4"
	audio := outputPrefix + ".f140.m4a"
	for _, path := range []string{video, audio} {
		if err := os.WriteFile(path, []byte("encrypted"), 0o644); err != nil {
			return nil, err
		}
	}
	return []string{video, audio}, nil
}

func (f *fakeVideoDownloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeVideoTools records decrypt keys and writes the mux output.
type fakeVideoTools struct {
	mu        sync.Mutex
	decrypted map[string]string
	muxed     []string
}

func newFakeVideoTools() *fakeVideoTools {
	return &fakeVideoTools{decrypted: make(map[string]string)}
}

func (f *fakeVideoTools) Decrypt(_ context.Context, path, hexKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decrypted[path] = hexKey
	return nil
}

func (f *fakeVideoTools) Mux(_ context.Context, videoPath, audioPath, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muxed = append(f.muxed, outputPath)
	return os.WriteFile(outputPath, []byte("muxed "+videoPath+" "+audioPath), 0o644)
}

func newTestSaver(cfg common.Config, stores *store.Registry, downloader Downloader, tools VideoTools) *Saver {
	return NewSaver(cfg, fetcher.New(cfg), stores, downloader, tools)
}
