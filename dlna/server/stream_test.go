package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRangeHeaderFullBody(t *testing.T) {
	start, end, ok := parseRangeHeader("", 1000)
	assert.False(t, ok)
	assert.Zero(t, start)
	assert.Zero(t, end)
}

func TestParseRangeHeaderOpenEnded(t *testing.T) {
	start, end, ok := parseRangeHeader("bytes=500-", 1000)
	assert.True(t, ok)
	assert.Equal(t, int64(500), start)
	assert.Equal(t, int64(999), end)
}

func TestParseRangeHeaderExplicitEnd(t *testing.T) {
	start, end, ok := parseRangeHeader("bytes=0-99", 1000)
	assert.True(t, ok)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(99), end)
	assert.Less(t, end, int64(1000))
}

func TestParseRangeHeaderEndClampedToSize(t *testing.T) {
	start, end, ok := parseRangeHeader("bytes=900-2000", 1000)
	assert.True(t, ok)
	assert.Equal(t, int64(900), start)
	assert.Equal(t, int64(999), end)
}

func TestParseRangeHeaderMalformedFallsBackToFullBody(t *testing.T) {
	for _, h := range []string{"garbage", "bytes=", "bytes=abc-def", "bytes=5"} {
		_, _, ok := parseRangeHeader(h, 1000)
		assert.False(t, ok, "header %q should be rejected", h)
	}
}

func TestParseRangeHeaderStartBeyondSizeRejected(t *testing.T) {
	_, _, ok := parseRangeHeader("bytes=1000-", 1000)
	assert.False(t, ok)
}

func TestParseRangeHeaderInvertedRangeRejected(t *testing.T) {
	_, _, ok := parseRangeHeader("bytes=500-100", 1000)
	assert.False(t, ok)
}
