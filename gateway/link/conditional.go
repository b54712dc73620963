package link

import (
	"net/http"
	"strings"
	"time"
)

// Conditional evaluation happens against the stream descriptor before any
// bytes are opened, so a 304/412 answer never touches the provider stream.

// EvaluateConditionals applies If-Match / If-Unmodified-Since /
// If-None-Match / If-Modified-Since against the descriptor's validators and
// returns the status code the handler must answer with. A zero return means
// the request proceeds normally.
func EvaluateConditionals(h http.Header, etag string, lastModified time.Time) int {
	if im := h.Get("If-Match"); im != "" {
		if etag == "" || !etagListMatches(im, etag) {
			return http.StatusPreconditionFailed
		}
	}
	if ius := h.Get("If-Unmodified-Since"); ius != "" && !lastModified.IsZero() {
		if t, err := http.ParseTime(ius); err == nil {
			if lastModified.Truncate(time.Second).After(t) {
				return http.StatusPreconditionFailed
			}
		}
	}
	if inm := h.Get("If-None-Match"); inm != "" {
		if etag != "" && etagListMatches(inm, etag) {
			return http.StatusNotModified
		}
		return 0
	}
	if ims := h.Get("If-Modified-Since"); ims != "" && !lastModified.IsZero() {
		if t, err := http.ParseTime(ims); err == nil {
			if !lastModified.Truncate(time.Second).After(t) {
				return http.StatusNotModified
			}
		}
	}
	return 0
}

// etagListMatches reports whether any entry of a comma-separated etag list
// matches the current etag. Weak prefixes and quotes are ignored for
// comparison, and "*" matches any existing entity.
func etagListMatches(list, etag string) bool {
	if strings.TrimSpace(list) == "*" {
		return true
	}
	current := normalizeETag(etag)
	for _, candidate := range strings.Split(list, ",") {
		if normalizeETag(candidate) == current {
			return true
		}
	}
	return false
}

func normalizeETag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}
