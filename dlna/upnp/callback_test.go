package upnp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallbackURLsSingle(t *testing.T) {
	urls := ParseCallbackURLs("<http://10.0.0.5:4004/event>")
	require.Len(t, urls, 1)
	assert.Equal(t, "http://10.0.0.5:4004/event", urls[0].String())
}

func TestParseCallbackURLsMultiple(t *testing.T) {
	urls := ParseCallbackURLs("<http://a.example/event> <http://b.example/event>")
	require.Len(t, urls, 2)
	assert.Equal(t, "http://a.example/event", urls[0].String())
	assert.Equal(t, "http://b.example/event", urls[1].String())
}

func TestParseCallbackURLsEmpty(t *testing.T) {
	assert.Nil(t, ParseCallbackURLs(""))
}

func TestParseCallbackURLsSkipsUnparseable(t *testing.T) {
	urls := ParseCallbackURLs("<http://ok.example/event> <://bad>")
	require.Len(t, urls, 1)
	assert.Equal(t, "http://ok.example/event", urls[0].String())
}
