package upnp

import (
	"net/url"
	"strings"
)

// ParseCallbackURLs parses a GENA CALLBACK header value, a list of
// "<url>"-bracketed URLs, adjacent or whitespace separated, e.g.
// "<http://a/><http://b/>".
func ParseCallbackURLs(s string) (urls []*url.URL) {
	s = strings.NewReplacer("<", " ", ">", " ").Replace(s)
	for _, field := range strings.Fields(s) {
		u, err := url.Parse(field)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}
