package ssdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeadersLowercasesAndTrims(t *testing.T) {
	h := parseHeaders([]string{"ST: ssdp:all", "  MAN : \"ssdp:discover\"", "malformed line"})
	assert.Equal(t, "ssdp:all", h["st"])
	assert.Equal(t, `"ssdp:discover"`, h["man"])
	_, ok := h["malformed line"]
	assert.False(t, ok)
}

func TestDeviceUSNsEncodesUUID(t *testing.T) {
	s := &Server{UUID: "abc-123", Devices: []string{"urn:schemas-upnp-org:device:MediaServer:1"}}
	got := s.deviceUSNs()
	require.Len(t, got, 1)
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaServer:1", got[0].st)
	assert.Equal(t, "uuid:abc-123::urn:schemas-upnp-org:device:MediaServer:1", got[0].val)
}

func TestServiceUSNsEncodesUUID(t *testing.T) {
	s := &Server{UUID: "abc-123"}
	got := s.serviceUSNs("urn:schemas-upnp-org:service:ContentDirectory:1")
	require.Len(t, got, 1)
	assert.Equal(t, "urn:schemas-upnp-org:service:ContentDirectory:1", got[0].st)
	assert.Equal(t, "uuid:abc-123::urn:schemas-upnp-org:service:ContentDirectory:1", got[0].val)
}

// TestAllUSNGroupsCoversThreeResponseFixture pins down spec's ssdp:all
// M-SEARCH fixture: one root device group plus one group per advertised
// service, so an ssdp:all search from a control point yields a response
// burst covering the root device, ContentDirectory, and
// X_MS_MediaReceiverRegistrar services.
func TestAllUSNGroupsCoversThreeResponseFixture(t *testing.T) {
	s := &Server{
		UUID:    "abc-123",
		Devices: []string{"urn:schemas-upnp-org:device:MediaServer:1"},
		Services: []string{
			"urn:schemas-upnp-org:service:ContentDirectory:1",
			"urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1",
		},
	}
	groups := s.allUSNGroups()
	require.Len(t, groups, 3)
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaServer:1", groups[0][0].st)
	assert.Equal(t, "urn:schemas-upnp-org:service:ContentDirectory:1", groups[1][0].st)
	assert.Equal(t, "urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1", groups[2][0].st)
}
