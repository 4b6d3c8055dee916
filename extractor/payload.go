package extractor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The site wires navigation and playback through inline click handlers, so a
// handful of identifiers only exist inside JavaScript payload strings. These
// helpers are the single place that knows about that idiom; everything else
// works with the values they return.

var (
	locationHREFRe = regexp.MustCompile(`^location\.href=['"]/?(.+?)['"]$`)
	mcRe           = regexp.MustCompile(`-MC-(\d+)`)
)

// locationHREF extracts the navigation target from a location.href click
// handler. The leading slash is dropped so the result can be resolved against
// the site base URL.
func locationHREF(onclick string) (string, bool) {
	m := locationHREFRe.FindStringSubmatch(strings.TrimSpace(onclick))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// epochFromMC extracts the millisecond epoch embedded in an identifier of the
// form "...-MC-<digits>...".
func epochFromMC(s string) (time.Time, bool) {
	m := mcRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// VideoPayload is the playback information serialized into a video block's
// click handler: a quality-label to URL mapping plus the DRM license
// endpoint.
type VideoPayload struct {
	Qualities  map[string]string
	URL        string
	Quality    string
	LicenseURL string
	KID        string
}

// qualityPreference is the playback pick order; first non-empty wins.
var qualityPreference = []string{"All", "1080p", "540p"}

// ParseVideoPayload dissects a video click handler. The handler is a
// positional argument list: argument 2 is a JSON object mapping quality
// labels to URLs, argument 7 the license endpoint URL carrying the key id in
// its query string.
func ParseVideoPayload(onclick string) (*VideoPayload, error) {
	args := strings.Split(onclick, ", ")
	if len(args) < 7 {
		return nil, fmt.Errorf("video payload has %d arguments, want at least 7", len(args))
	}

	qualities := make(map[string]string)
	if err := json.Unmarshal([]byte(args[1]), &qualities); err != nil {
		return nil, fmt.Errorf("failed to decode quality map: %w", err)
	}

	p := &VideoPayload{Qualities: qualities}
	for _, q := range qualityPreference {
		if u := qualities[q]; u != "" {
			p.URL = u
			p.Quality = q
			break
		}
	}
	if p.URL == "" {
		return nil, fmt.Errorf("no playable URL among qualities %v", keysOf(qualities))
	}

	p.LicenseURL = strings.Trim(args[6], `")`)
	licURL, err := url.Parse(p.LicenseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse license URL: %w", err)
	}
	p.KID = licURL.Query().Get("kid")
	if p.KID == "" {
		return nil, fmt.Errorf("license URL carries no kid parameter: %s", p.LicenseURL)
	}

	return p, nil
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
