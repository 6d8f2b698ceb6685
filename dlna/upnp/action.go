package upnp

import (
	"fmt"
	"strings"
)

// SoapAction is the parsed contents of a SOAPACTION HTTP header, of the form
// `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`.
type SoapAction struct {
	ServiceURN ServiceURN
	Action     string
}

// ServiceURN is a parsed UPnP service type URN. Raw preserves the full
// original string (needed verbatim as the SOAP response's xmlns:u), while
// Type is the short name (e.g. "ContentDirectory") used to key the service
// dispatch table.
type ServiceURN struct {
	Raw     string
	Type    string
	Version string
}

func (u ServiceURN) String() string {
	return u.Raw
}

// ParseActionHTTPHeader parses a SOAPACTION header value into a SoapAction.
func ParseActionHTTPHeader(s string) (sa SoapAction, err error) {
	s = strings.Trim(s, `"`)
	hashIndex := strings.LastIndex(s, "#")
	if hashIndex == -1 {
		return sa, fmt.Errorf("upnp: missing '#' in SOAPACTION: %q", s)
	}
	urn, err := ParseServiceType(s[:hashIndex])
	if err != nil {
		return sa, err
	}
	sa.ServiceURN = urn
	sa.Action = s[hashIndex+1:]
	return sa, nil
}

// ParseServiceType parses a service type URN such as
// "urn:schemas-upnp-org:service:ContentDirectory:1" or
// "urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1" into its type and
// version components. The type is the last ":"-delimited field but one.
func ParseServiceType(s string) (urn ServiceURN, err error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return urn, fmt.Errorf("upnp: malformed service type %q", s)
	}
	urn.Raw = s
	urn.Version = parts[len(parts)-1]
	urn.Type = parts[len(parts)-2]
	return urn, nil
}
