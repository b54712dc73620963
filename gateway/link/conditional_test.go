package link

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var lastMod = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func hdr(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestIfMatch(t *testing.T) {
	assert.Equal(t, 0, EvaluateConditionals(hdr("If-Match", `"abc"`), `"abc"`, lastMod))
	assert.Equal(t, 0, EvaluateConditionals(hdr("If-Match", "*"), `"abc"`, lastMod))
	assert.Equal(t, http.StatusPreconditionFailed,
		EvaluateConditionals(hdr("If-Match", `"other"`), `"abc"`, lastMod))
	// no etag available: If-Match cannot be satisfied
	assert.Equal(t, http.StatusPreconditionFailed,
		EvaluateConditionals(hdr("If-Match", `"abc"`), "", lastMod))
}

func TestIfNoneMatch(t *testing.T) {
	assert.Equal(t, http.StatusNotModified,
		EvaluateConditionals(hdr("If-None-Match", `"abc"`), `"abc"`, lastMod))
	assert.Equal(t, http.StatusNotModified,
		EvaluateConditionals(hdr("If-None-Match", `W/"abc"`), `"abc"`, lastMod))
	assert.Equal(t, http.StatusNotModified,
		EvaluateConditionals(hdr("If-None-Match", `"x", "abc"`), `"abc"`, lastMod))
	assert.Equal(t, 0, EvaluateConditionals(hdr("If-None-Match", `"other"`), `"abc"`, lastMod))
}

func TestIfNoneMatchSuppressesIfModifiedSince(t *testing.T) {
	h := hdr(
		"If-None-Match", `"other"`,
		"If-Modified-Since", lastMod.Format(http.TimeFormat),
	)
	assert.Equal(t, 0, EvaluateConditionals(h, `"abc"`, lastMod))
}

func TestIfModifiedSince(t *testing.T) {
	same := hdr("If-Modified-Since", lastMod.Format(http.TimeFormat))
	assert.Equal(t, http.StatusNotModified, EvaluateConditionals(same, "", lastMod))

	older := hdr("If-Modified-Since", lastMod.Add(-time.Hour).Format(http.TimeFormat))
	assert.Equal(t, 0, EvaluateConditionals(older, "", lastMod))

	newer := hdr("If-Modified-Since", lastMod.Add(time.Hour).Format(http.TimeFormat))
	assert.Equal(t, http.StatusNotModified, EvaluateConditionals(newer, "", lastMod))
}

func TestIfUnmodifiedSince(t *testing.T) {
	ok := hdr("If-Unmodified-Since", lastMod.Format(http.TimeFormat))
	assert.Equal(t, 0, EvaluateConditionals(ok, "", lastMod))

	stale := hdr("If-Unmodified-Since", lastMod.Add(-time.Hour).Format(http.TimeFormat))
	assert.Equal(t, http.StatusPreconditionFailed, EvaluateConditionals(stale, "", lastMod))
}

func TestNoConditionals(t *testing.T) {
	assert.Equal(t, 0, EvaluateConditionals(http.Header{}, `"abc"`, lastMod))
	assert.Equal(t, 0, EvaluateConditionals(http.Header{}, "", time.Time{}))
}

func TestMalformedDatesIgnored(t *testing.T) {
	h := hdr("If-Modified-Since", "not a date")
	assert.Equal(t, 0, EvaluateConditionals(h, "", lastMod))
}
