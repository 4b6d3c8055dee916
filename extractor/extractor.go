// Package extractor turns raw feed markup into normalized Post entities:
// stable identity, classification, resolved timestamps and a filesystem-safe
// base name.
package extractor

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/yh/jffscraper/common"
	"github.com/yh/jffscraper/model"
)

const (
	cardSelector     = "div.mbsc-card.jffPostClass"
	fillerClass      = "donotremove"
	expiryNoticeText = "This post will disappear"

	// subtitleTimeLayout parses the human-readable publish time the site
	// renders, e.g. "January 02, 2024, 3:15 PM".
	subtitleTimeLayout = "January 2, 2006, 3:04 PM"

	isoLayout  = "2006-01-02T15:04:05"
	dateLayout = "2006-01-02"

	// Base names feed into filesystem paths that are byte-length constrained
	// downstream, so the cap operates on encoded bytes, not runes.
	basenameByteLimit  = 140
	truncationMarker   = "..."
	excerptPrefixBytes = 50
)

var unsafeRunsRe = regexp.MustCompile(`[\\/:*?"<>|\s]+`)

// MalformedPostError reports a feed fragment that cannot yield a usable
// identity. Callers log it and continue with the next card.
type MalformedPostError struct {
	Reason string
	Err    error
}

func (e *MalformedPostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed post: %s: %v", e.Reason, e.Err)
	}
	return "malformed post: " + e.Reason
}

func (e *MalformedPostError) Unwrap() error { return e.Err }

// Extractor derives Post entities from feed cards.
type Extractor struct {
	cfg common.Config
}

// New creates an extractor bound to one run's configuration. The base name
// template is captured here so names stay a pure function of post fields for
// the whole run.
func New(cfg common.Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Cards selects the feed cards of one page in document order. Promotional
// filler cards are included; callers skip them via IsFiller.
func Cards(pageHTML string) ([]*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page markup: %w", err)
	}

	var cards []*goquery.Selection
	doc.Find(cardSelector).Each(func(_ int, s *goquery.Selection) {
		cards = append(cards, s)
	})
	return cards, nil
}

// IsFiller reports whether a card is a "whom to follow" style filler that
// must never be extracted.
func IsFiller(card *goquery.Selection) bool {
	return card.HasClass(fillerClass)
}

// RawHTML renders a card back to markup for diagnostics and optional
// provenance capture.
func RawHTML(card *goquery.Selection) string {
	h, err := goquery.OuterHtml(card)
	if err != nil {
		return ""
	}
	return h
}

// Extract builds a Post from one feed card. It fails only when the card
// yields no usable identity; every other field degrades to a default.
func (e *Extractor) Extract(card *goquery.Selection) (*model.Post, error) {
	post := &model.Post{
		UploadDate:    model.UnknownDate,
		UploadDateISO: model.UnknownDate,
		PostDate:      model.UnknownDate,
		PostDateISO:   model.UnknownDate,
	}

	encodedPID, ok := card.Attr("data-pid")
	if !ok {
		return nil, &MalformedPostError{Reason: "card carries no data-pid attribute"}
	}
	pid, err := base64.StdEncoding.DecodeString(encodedPID)
	if err != nil {
		return nil, &MalformedPostError{Reason: "data-pid is not valid base64", Err: err}
	}
	post.PID = string(pid)

	uploader, err := e.uploaderID(card)
	if err != nil {
		return nil, err
	}
	post.UploaderID = uploader

	post.Type = classify(card)
	post.Pinned = card.HasClass("pinned")

	if text := card.Find("div.fr-view").First(); text.Length() > 0 {
		post.FullText = strings.TrimSpace(text.Text())
	}

	card.Find("div.postTags a").Each(func(_ int, s *goquery.Selection) {
		post.Tags = append(post.Tags, strings.Trim(strings.TrimSpace(s.Text()), "#"))
	})

	for _, class := range strings.Fields(card.AttrOr("class", "")) {
		if rest, found := strings.CutPrefix(class, "AccessControl-"); found {
			post.AccessControl = rest
			break
		}
	}

	if onclick, ok := card.Find("div.storeItemWidget button").First().Attr("onclick"); ok {
		if target, ok := locationHREF(onclick); ok {
			post.StoreURL = e.resolveURL(target)
		}
	}

	e.resolvePermalink(card, post)
	e.resolveTimestamps(card, post)

	post.Basename = e.basename(post)

	return post, nil
}

// uploaderID reads the owning account from the card title's navigation
// handler.
func (e *Extractor) uploaderID(card *goquery.Selection) (string, error) {
	title := card.Find("h5.mbsc-card-title.mbsc-bold span").First()
	onclick, ok := title.Attr("onclick")
	if !ok {
		return "", &MalformedPostError{Reason: "card title carries no navigation handler"}
	}
	target, ok := locationHREF(onclick)
	if !ok {
		return "", &MalformedPostError{Reason: "card title handler is not a location.href payload"}
	}
	return target, nil
}

// classify maps the card's structural class markers to a post type. The
// markers are mutually exclusive on real pages; the first match wins and an
// unmarked card is unknown.
func classify(card *goquery.Selection) model.PostType {
	switch {
	case card.HasClass("shoutout"):
		return model.TypeShoutout
	case card.HasClass("video"):
		return model.TypeVideo
	case card.HasClass("photo"):
		return model.TypePhoto
	case card.HasClass("text"):
		return model.TypeText
	default:
		return model.TypeUnknown
	}
}

// resolvePermalink derives the post's permalink from the subtitle navigation
// handler and, when the permalink carries an encoded secondary identifier,
// decodes it into MCID.
func (e *Extractor) resolvePermalink(card *goquery.Selection, post *model.Post) {
	onclick, ok := card.Find("div.mbsc-card-subtitle").First().Attr("onclick")
	if !ok {
		return
	}
	target, ok := locationHREF(onclick)
	if !ok {
		return
	}
	post.PostURL = e.resolveURL(target)

	parsed, err := url.Parse(post.PostURL)
	if err != nil {
		return
	}
	encoded := parsed.Query().Get("Post")
	if encoded == "" {
		return
	}
	if mcid, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		post.MCID = string(mcid)
	}
}

// resolveTimestamps runs the publish-time fallback chain, first success
// wins:
//  1. a structured data-timestamp attribute (unix seconds),
//  2. the human-readable subtitle, with the expiry notice stripped,
//  3. the millisecond epoch inside the MCID,
//  4. the millisecond epoch inside an overlay element id or click handler.
//
// Tier 4 only runs while the date is still Unknown or Pinned; relaxing that
// gate would change which of two differing timestamps wins on pinned posts.
// The upload time is tracked separately and comes only from the MCID.
func (e *Extractor) resolveTimestamps(card *goquery.Selection, post *model.Post) {
	if card.Find("div.pinnedNotice").Length() > 0 {
		post.PostDate = model.PinnedDate
	}

	if post.MCID != "" {
		if ts, ok := epochFromMC(post.MCID); ok {
			post.UploadDate = ts.Format(dateLayout)
			post.UploadDateISO = ts.Format(isoLayout)
		}
	}

	if raw, ok := card.Attr("data-timestamp"); ok {
		if secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			setPostDate(post, time.Unix(secs, 0))
			return
		}
	}

	subtitle := strings.TrimSpace(card.Find("div.mbsc-card-subtitle").First().Text())
	if i := strings.Index(subtitle, expiryNoticeText); i >= 0 {
		subtitle = strings.TrimSpace(subtitle[:i])
	}
	if ts, err := time.Parse(subtitleTimeLayout, subtitle); err == nil {
		setPostDate(post, ts)
		return
	}

	if post.MCID != "" {
		if ts, ok := epochFromMC(post.MCID); ok {
			setPostDate(post, ts)
			return
		}
	}

	if post.PostDate == model.UnknownDate || post.PostDate == model.PinnedDate {
		if ts, ok := overlayEpoch(card); ok {
			setPostDate(post, ts)
		}
	}
}

func setPostDate(post *model.Post, ts time.Time) {
	post.PostDate = ts.Format(dateLayout)
	post.PostDateISO = ts.Format(isoLayout)
}

// overlayEpoch scans media overlay element ids, then click-handler payloads,
// for an embedded "-MC-<ms>" identifier.
func overlayEpoch(card *goquery.Selection) (time.Time, bool) {
	var found time.Time
	var ok bool

	card.Find(`[id*="-MC-"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if ts, hit := epochFromMC(s.AttrOr("id", "")); hit {
			found, ok = ts, true
			return false
		}
		return true
	})
	if ok {
		return found, true
	}

	card.Find("[onclick]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if ts, hit := epochFromMC(s.AttrOr("onclick", "")); hit {
			found, ok = ts, true
			return false
		}
		return true
	})
	return found, ok
}

// basename substitutes the recognized template placeholders and caps the
// encoded result at 140 bytes, preferring the last space boundary inside the
// limit so multi-byte runes are never split mid-sequence.
func (e *Extractor) basename(post *model.Post) string {
	excerpt := strings.TrimSpace(unsafeRunsRe.ReplaceAllString(post.FullText, " "))

	name := strings.NewReplacer(
		"{name}", post.UploaderID,
		"{post_date}", post.PostDate,
		"{post_id}", post.PID,
		"{desc}", excerpt,
	).Replace(e.cfg.FileNameFormat)
	name = strings.TrimSpace(name)

	encoded := []byte(name)
	if len(encoded) < basenameByteLimit {
		return name
	}

	cut := basenameByteLimit
	if i := strings.LastIndexByte(name[:basenameByteLimit], ' '); i != -1 {
		cut = i
	}
	return string(encoded[:cut]) + truncationMarker
}

// BasenamePrefix returns the glob-safe leading chunk of a basename used by
// existence checks: long names may have been truncated differently across
// runs, so only the first 50 bytes are compared.
func BasenamePrefix(basename string) string {
	if len(basename) > excerptPrefixBytes {
		return basename[:excerptPrefixBytes]
	}
	return basename
}

// resolveURL joins a site-relative navigation target with the configured base
// URL.
func (e *Extractor) resolveURL(target string) string {
	base, err := url.Parse(e.cfg.BaseURL)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return base.ResolveReference(ref).String()
}
