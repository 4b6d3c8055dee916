// Package store persists post and media metadata in per-uploader sqlite
// databases. Writes are serialized through a store-wide mutex; reads go
// through database/sql's connection pool so they never share a connection
// with a concurrent writer.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/yh/jffscraper/model"
)

// Store is one uploader's metadata database.
type Store struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the database at path and brings its
// schema up to date.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(DELETE)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string { return s.path }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPost inserts the post or, when its pid already exists, updates every
// mutable column in place. Returns the surrogate row id.
func (s *Store) UpsertPost(post *model.Post, rawHTML string) (int64, error) {
	var tags any
	if len(post.Tags) > 0 {
		encoded, err := json.Marshal(post.Tags)
		if err != nil {
			return 0, fmt.Errorf("failed to encode tags: %w", err)
		}
		tags = string(encoded)
	}

	var rawHTMLCol any
	if rawHTML != "" {
		rawHTMLCol = rawHTML
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO posts (
			pid, mcid, uploader_id, post_url, upload_date, upload_date_iso,
			post_date, post_date_iso, full_text, type, pinned,
			access_control, store_url, tags, raw_html
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pid) DO UPDATE SET
			mcid = excluded.mcid,
			uploader_id = excluded.uploader_id,
			post_url = excluded.post_url,
			upload_date = excluded.upload_date,
			upload_date_iso = excluded.upload_date_iso,
			post_date = excluded.post_date,
			post_date_iso = excluded.post_date_iso,
			full_text = excluded.full_text,
			type = excluded.type,
			pinned = excluded.pinned,
			access_control = excluded.access_control,
			store_url = excluded.store_url,
			tags = excluded.tags,
			raw_html = excluded.raw_html
	`, post.PID, nullable(post.MCID), post.UploaderID, nullable(post.PostURL),
		post.UploadDate, post.UploadDateISO, post.PostDate, post.PostDateISO,
		post.FullText, string(post.Type), boolToInt(post.Pinned),
		nullable(post.AccessControl), nullable(post.StoreURL), tags, rawHTMLCol)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert post %s: %w", post.PID, err)
	}

	return s.postID(post.PID)
}

// GetPostID returns the surrogate id for a pid, or 0 when the post is
// unknown.
func (s *Store) GetPostID(pid string) (int64, error) {
	id, err := s.postID(pid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

func (s *Store) postID(pid string) (int64, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM posts WHERE pid = ?", pid).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetMediaID locates an existing media row by its dedup key: videos by
// (post, media_type) since a post owns at most one, photos by (post, url)
// since galleries own several. Returns 0 when absent.
func (s *Store) GetMediaID(postID int64, mediaType model.MediaType, url string) (int64, error) {
	var row *sql.Row
	if mediaType == model.MediaVideo {
		row = s.db.QueryRow(
			"SELECT id FROM media WHERE post_id = ? AND media_type = ?",
			postID, string(mediaType))
	} else {
		row = s.db.QueryRow(
			"SELECT id FROM media WHERE post_id = ? AND url = ?",
			postID, url)
	}

	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up media row: %w", err)
	}
	return id, nil
}

// UpsertMedia records a media asset before its download is attempted, so DRM
// key material survives even when the download is later skipped or fails.
// Re-ingestion updates the existing row in place. Returns the row id.
func (s *Store) UpsertMedia(m *model.Media) (int64, error) {
	existingID, err := s.GetMediaID(m.PostID, m.MediaType, m.URL)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if existingID != 0 {
		_, err := s.db.Exec(`
			UPDATE media SET
				url = ?, quality = ?, license_url = ?, kid = ?, decryption_key = ?
			WHERE id = ?
		`, m.URL, nullable(m.Quality), nullable(m.LicenseURL), nullable(m.KID),
			nullable(m.DecryptionKey), existingID)
		if err != nil {
			return 0, fmt.Errorf("failed to update media row %d: %w", existingID, err)
		}
		m.ID = existingID
		return existingID, nil
	}

	res, err := s.db.Exec(`
		INSERT INTO media (post_id, media_type, url, quality, license_url, kid, decryption_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.PostID, string(m.MediaType), m.URL, nullable(m.Quality),
		nullable(m.LicenseURL), nullable(m.KID), nullable(m.DecryptionKey))
	if err != nil {
		return 0, fmt.Errorf("failed to insert media row: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted media id: %w", err)
	}
	m.ID = id
	return id, nil
}

// UpdateMediaFile finalizes a media row with the downloaded artifact's path
// and size. Only called after a fully successful download, so a row never
// points at a file that does not exist.
func (s *Store) UpdateMediaFile(mediaID int64, filePath string, fileSize int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		"UPDATE media SET file_path = ?, file_size = ? WHERE id = ?",
		filePath, fileSize, mediaID)
	if err != nil {
		return fmt.Errorf("failed to finalize media row %d: %w", mediaID, err)
	}
	return nil
}

// CountPosts reports how many posts the store holds, used for run summaries.
func (s *Store) CountPosts() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM posts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
