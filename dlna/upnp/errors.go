package upnp

import (
	"encoding/xml"
	"fmt"
)

// Well-known UPnP error codes used by this server.
const (
	InvalidActionErrorCode     = 401
	InvalidArgsErrorCode       = 402
	ArgumentValueInvalidErrorCode = 600
	NoSuchObjectErrorCode      = 701
)

// Error is a UPnP SOAP fault detail, marshaled as <UPnPError>.
type Error struct {
	XMLName     xml.Name `xml:"urn:schemas-upnp-org:control-1-0 UPnPError"`
	Code        int      `xml:"errorCode"`
	Description string   `xml:"errorDescription"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("UPnPError %d: %s", e.Code, e.Description)
}

// InvalidActionError is returned for SOAP actions on an unregistered service.
var InvalidActionError = &Error{Code: InvalidActionErrorCode, Description: "Invalid Action"}

// Errorf builds an *Error with a formatted description.
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// ConvertError converts any error into a *Error, defaulting unrecognized
// errors to InvalidActionErrorCode so a fault body can always be rendered.
func ConvertError(err error) *Error {
	if ue, ok := err.(*Error); ok {
		return ue
	}
	return Errorf(InvalidActionErrorCode, "%s", err.Error())
}
