// Package dlna provides the small set of DLNA wire-format helpers shared by the
// streaming server and the ContentDirectory dispatcher: content feature strings,
// the NPT time-range header, and the handful of header names DLNA clients expect.
package dlna

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header names used on streaming and transcoded responses.
const (
	TransferModeDomain   = "transferMode.dlna.org"
	ContentFeaturesDomain = "contentFeatures.dlna.org"
	TimeSeekRangeDomain  = "TimeSeekRange.dlna.org"
)

// ServerBanner is the fixed Server header banner string this media server
// advertises on SSDP responses/NOTIFYs, SOAP responses, and stream responses.
// Real-world DLNA renderers are known to special-case this exact string, so it
// is emitted verbatim rather than describing this server's actual stack.
const ServerBanner = "Microsoft-Windows/10.0 UPnP/1.0 WMP/12.0"

// ContentFeatures describes the DLNA.ORG_PN/OP/CI/FLAGS tuple emitted on the
// contentFeatures.dlna.org header and embedded in <res protocolInfo=...> elements.
type ContentFeatures struct {
	ProfileName     string
	SupportRange    bool
	SupportTimeSeek bool
	Transcoded      bool
	// Flags, if set, overrides the computed DLNA.ORG_FLAGS value.
	Flags string
}

// String renders the DLNA.ORG_PN/OP/CI/FLAGS parameter string.
func (cf ContentFeatures) String() string {
	var parts []string
	if cf.ProfileName != "" {
		parts = append(parts, "DLNA.ORG_PN="+cf.ProfileName)
	}
	op0, op1 := "0", "0"
	if cf.SupportTimeSeek {
		op0 = "1"
	}
	if cf.SupportRange {
		op1 = "1"
	}
	parts = append(parts, fmt.Sprintf("DLNA.ORG_OP=%s%s", op0, op1))
	ci := "0"
	if cf.Transcoded {
		ci = "1"
	}
	parts = append(parts, "DLNA.ORG_CI="+ci)
	flags := cf.Flags
	if flags == "" {
		flags = "01700000000000000000000000000000"
	}
	parts = append(parts, "DLNA.ORG_FLAGS="+flags)
	return strings.Join(parts, ";")
}

// NPTRange is a parsed "normal play time" range, as carried by the
// TimeSeekRange.dlna.org request header (npt=start-end).
type NPTRange struct {
	Start, End time.Duration
}

// ParseNPTRange parses the portion of a TimeSeekRange.dlna.org header value
// after the "npt=" prefix, e.g. "10.500-" or "0-30.2".
func ParseNPTRange(s string) (r NPTRange, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return r, fmt.Errorf("dlna: malformed npt range %q", s)
	}
	if parts[0] != "" {
		r.Start, err = parseNPTTime(parts[0])
		if err != nil {
			return r, err
		}
	}
	if parts[1] != "" {
		r.End, err = parseNPTTime(parts[1])
		if err != nil {
			return r, err
		}
	} else {
		r.End = -1
	}
	return r, nil
}

func parseNPTTime(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("dlna: bad npt time %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// FormatUPNPDuration renders seconds as H:MM:SS, the form the ContentDirectory
// DIDL-Lite <res duration=...> attribute uses.
func FormatUPNPDuration(seconds float64) string {
	if seconds <= 0 {
		return "0:00:00"
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// FormatDLNADuration renders seconds as HH:MM:SS.mmm, the form a resumePosition
// attribute uses.
func FormatDLNADuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds * 1000)
	ms := total % 1000
	totalSec := total / 1000
	h := totalSec / 3600
	m := (totalSec % 3600) / 60
	s := totalSec % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
