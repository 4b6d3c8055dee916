package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yh/jffscraper/model"
	"github.com/yh/jffscraper/store"
)

func photoPost() *model.Post {
	return &model.Post{
		PID:        "post-7",
		UploaderID: "coolguy",
		PostDate:   "2024-01-02",
		Type:       model.TypePhoto,
		Basename:   "coolguy - 2024-01-02 - post-7 - pics",
	}
}

func photoServer(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprintf(w, "image-bytes-for-%s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSavePhotoGallery(t *testing.T) {
	var requests atomic.Int64
	srv := photoServer(t, &requests)

	root := t.TempDir()
	stores := store.NewRegistry()
	defer stores.CloseAll()

	s := newTestSaver(testMediaConfig(root), stores, nil, nil)
	post := persistedPost(t, stores, root, photoPost())

	inner := fmt.Sprintf(`
		<div class="imageGallery galleryLarge">
			<img class="expandable" src="%s/a.jpg">
			<img class="expandable" src="%s/b.jpg">
		</div>`, srv.URL, srv.URL)
	card := testCard(t, inner)

	require.NoError(t, s.SavePhoto(context.Background(), post, card))

	folder := filepath.Join(root, "coolguy", "photo")
	for i, name := range []string{"a.jpg", "b.jpg"} {
		destPath := filepath.Join(folder, fmt.Sprintf("%s.%02d.jpg", post.Basename, i))
		content, err := os.ReadFile(destPath)
		require.NoError(t, err)
		assert.Equal(t, "image-bytes-for-/"+name, string(content))
	}
	assert.Equal(t, int64(2), requests.Load())

	st, err := stores.ForUploader(root, post.UploaderID)
	require.NoError(t, err)
	for _, name := range []string{"/a.jpg", "/b.jpg"} {
		id, err := st.GetMediaID(post.StoreID, model.MediaPhoto, srv.URL+name)
		require.NoError(t, err)
		assert.NotZero(t, id, "each gallery image gets its own media row")
	}

	// A second pass over the same card re-records metadata but downloads
	// nothing.
	require.NoError(t, s.SavePhoto(context.Background(), post, card))
	assert.Equal(t, int64(2), requests.Load(), "cached images are not re-fetched")
}

func TestSavePhotoSingleImageFallback(t *testing.T) {
	var requests atomic.Int64
	srv := photoServer(t, &requests)

	root := t.TempDir()
	s := newTestSaver(testMediaConfig(root), store.NewRegistry(), nil, nil)
	post := photoPost()

	card := testCard(t, fmt.Sprintf(`<img class="expandable" src="%s/solo.jpg">`, srv.URL))
	require.NoError(t, s.SavePhoto(context.Background(), post, card))

	destPath := filepath.Join(root, "coolguy", "photo", post.Basename+".00.jpg")
	assert.FileExists(t, destPath)
}

func TestSavePhotoLazyLoadedSource(t *testing.T) {
	var requests atomic.Int64
	srv := photoServer(t, &requests)

	root := t.TempDir()
	s := newTestSaver(testMediaConfig(root), store.NewRegistry(), nil, nil)
	post := photoPost()

	inner := fmt.Sprintf(`
		<div class="imageGallery galleryLarge">
			<img class="expandable" data-lazy="%s/lazy.jpg">
		</div>`, srv.URL)
	card := testCard(t, inner)

	require.NoError(t, s.SavePhoto(context.Background(), post, card))
	assert.FileExists(t, filepath.Join(root, "coolguy", "photo", post.Basename+".00.jpg"))
}

func TestSavePhotoNoImages(t *testing.T) {
	root := t.TempDir()
	s := newTestSaver(testMediaConfig(root), store.NewRegistry(), nil, nil)

	card := testCard(t, `<div class="fr-view">all text, no pictures</div>`)
	err := s.SavePhoto(context.Background(), photoPost(), card)
	assert.Error(t, err)
}
