package stream

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// selectorParams are the query parameters that pick a channel and camera.
var selectorParams = map[string]bool{
	"channel": true,
	"chns":    true,
}

var selectorPattern = regexp.MustCompile(`([?&])(channel|chns)=[^&#]*`)

const playerPath = "/open/player/video.html"

// BuildPlaybackURL composes the vendor player URL for a device and token.
func BuildPlaybackURL(apiBase, deviceExternalID, token string, cameraIndex int) string {
	base := strings.TrimRight(apiBase, "/") + playerPath
	raw := base + "?lang=en" +
		"&devIdno=" + url.QueryEscape(deviceExternalID) +
		"&jsession=" + url.QueryEscape(token)
	return WithCamera(raw, cameraIndex)
}

// WithCamera strips any selector parameters from raw and appends the
// canonical channel and camera index ahead of any fragment. Applying it
// twice is a no-op.
func WithCamera(raw string, cameraIndex int) string {
	base, frag, hasFrag := strings.Cut(raw, "#")
	stripped := NormalizeURL(base)
	sep := "?"
	if strings.Contains(stripped, "?") {
		sep = "&"
		if strings.HasSuffix(stripped, "?") || strings.HasSuffix(stripped, "&") {
			sep = ""
		}
	}
	out := stripped + sep + "channel=1&chns=" + strconv.Itoa(cameraIndex)
	if hasFrag {
		out += "#" + frag
	}
	return out
}

// NormalizeURL removes channel and chns query parameters from raw. A URL
// without them is returned unchanged. Strings that do not parse as URLs are
// stripped textually.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return stripText(raw)
	}
	if u.RawQuery == "" {
		return raw
	}

	parts := strings.Split(u.RawQuery, "&")
	kept := parts[:0]
	removed := false
	for _, p := range parts {
		key := p
		if i := strings.IndexByte(p, '='); i >= 0 {
			key = p[:i]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if selectorParams[key] {
			removed = true
			continue
		}
		if p == "" {
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return raw
	}
	u.RawQuery = strings.Join(kept, "&")
	return u.String()
}

func stripText(raw string) string {
	out, frag, hasFrag := strings.Cut(raw, "#")
	for {
		next := selectorPattern.ReplaceAllString(out, "$1")
		next = strings.ReplaceAll(next, "?&", "?")
		next = strings.ReplaceAll(next, "&&", "&")
		if next == out {
			break
		}
		out = next
	}
	out = strings.TrimRight(out, "&")
	out = strings.TrimSuffix(out, "?")
	if hasFrag {
		out += "#" + frag
	}
	return out
}
