package dlna

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentFeaturesStringMatchesMPEGPSNTSCFixture(t *testing.T) {
	cf := ContentFeatures{ProfileName: "MPEG_PS_NTSC", SupportRange: true}
	got := cf.String()
	want := "DLNA.ORG_PN=MPEG_PS_NTSC;DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	assert.Equal(t, want, got)
}

func TestContentFeaturesTranscodedSetsCI(t *testing.T) {
	cf := ContentFeatures{ProfileName: "MPEG_PS", Transcoded: true}
	assert.Contains(t, cf.String(), "DLNA.ORG_CI=1")
}

func TestContentFeaturesTimeSeekSetsOP(t *testing.T) {
	cf := ContentFeatures{SupportTimeSeek: true, SupportRange: true}
	assert.Contains(t, cf.String(), "DLNA.ORG_OP=11")
}

func TestContentFeaturesCustomFlagsOverride(t *testing.T) {
	cf := ContentFeatures{Flags: "abc"}
	assert.Contains(t, cf.String(), "DLNA.ORG_FLAGS=abc")
}

func TestParseNPTRangeOpenEnded(t *testing.T) {
	r, err := ParseNPTRange("10.5-")
	require.NoError(t, err)
	assert.Equal(t, 10500*time.Millisecond, r.Start)
	assert.Equal(t, time.Duration(-1), r.End)
}

func TestParseNPTRangeBounded(t *testing.T) {
	r, err := ParseNPTRange("0-30.2")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), r.Start)
	assert.Equal(t, 30200*time.Millisecond, r.End)
}

func TestParseNPTRangeMalformed(t *testing.T) {
	_, err := ParseNPTRange("garbage")
	assert.Error(t, err)
}

func TestFormatUPNPDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", FormatUPNPDuration(0))
	assert.Equal(t, "1:01:05", FormatUPNPDuration(3665))
}

func TestFormatDLNADuration(t *testing.T) {
	assert.Equal(t, "01:01:05.250", FormatDLNADuration(3665.25))
	assert.Equal(t, "00:00:00.000", FormatDLNADuration(-5))
}
