package model

// UnknownDate is the sentinel used when no tier of the timestamp fallback
// chain produced a parseable date.
const UnknownDate = "Unknown Date"

// PinnedDate marks posts carrying a pinned notice before a real timestamp
// has been resolved for them.
const PinnedDate = "Pinned"

// PostType classifies a feed card. Exactly one structural marker matches,
// otherwise the post is TypeUnknown and no media action is taken.
type PostType string

const (
	TypeShoutout PostType = "shoutout"
	TypeVideo    PostType = "video"
	TypePhoto    PostType = "photo"
	TypeText     PostType = "text"
	TypeUnknown  PostType = "unknown"
)

// Post is one harvested feed entry. Immutable after extraction except for
// StoreID, which the metadata store assigns on upsert.
type Post struct {
	PID           string   `json:"pid"`
	MCID          string   `json:"mcid"`
	UploaderID    string   `json:"uploader_id"`
	PostURL       string   `json:"post_url"`
	UploadDate    string   `json:"upload_date"`
	UploadDateISO string   `json:"upload_date_iso"`
	PostDate      string   `json:"post_date"`
	PostDateISO   string   `json:"post_date_iso"`
	FullText      string   `json:"full_text"`
	Type          PostType `json:"type"`
	Pinned        bool     `json:"pinned"`
	AccessControl string   `json:"access_control,omitempty"`
	StoreURL      string   `json:"store_url,omitempty"`
	Tags          []string `json:"tags"`
	Basename      string   `json:"basename"`

	// StoreID is the surrogate row id in the metadata store, zero until the
	// post has been upserted. A failed store write leaves it zero and the
	// post is still processed (media provenance becomes best-effort).
	StoreID int64 `json:"-"`
}

// MediaType discriminates media rows.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
)

// Media is one downloadable asset owned by exactly one Post. Video rows are
// deduplicated by (post, media_type); photo rows by (post, url).
type Media struct {
	ID            int64     `json:"id"`
	PostID        int64     `json:"post_id"`
	MediaType     MediaType `json:"media_type"`
	URL           string    `json:"url"`
	Quality       string    `json:"quality,omitempty"`
	LicenseURL    string    `json:"license_url,omitempty"`
	KID           string    `json:"kid,omitempty"`
	DecryptionKey string    `json:"decryption_key,omitempty"`
	FilePath      string    `json:"file_path,omitempty"`
	FileSize      int64     `json:"file_size,omitempty"`
}
