// Package soap implements the minimal SOAP 1.1 envelope shapes UPnP control
// requests and responses use.
package soap

import "encoding/xml"

// Envelope is a SOAP request envelope. Only the body's inner action element is
// of interest to the dispatcher, so it is captured as raw bytes and decoded
// against the expected action shape by the caller.
type Envelope struct {
	XMLName       xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body          Body     `xml:"Body"`
}

// Body wraps the single action element of a SOAP request.
type Body struct {
	Action []byte `xml:",innerxml"`
}

// Arg is a single response argument, rendered as <Name>Value</Name>.
type Arg struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// Fault is a SOAP 1.1 fault body.
type Fault struct {
	XMLName     xml.Name `xml:"s:Fault"`
	FaultCode   string   `xml:"faultcode"`
	FaultString string   `xml:"faultstring"`
	Detail      Detail   `xml:"detail"`
}

// Detail wraps a nested UPnP error detail element.
type Detail struct {
	UPnPError interface{} `xml:"UPnPError"`
}

// NewFault builds a Fault whose detail element carries err (typically a
// *upnp.Error). The detail element is always named UPnPError; the
// upnpErrorElement argument is not used.
func NewFault(upnpErrorElement string, err interface{}) Fault {
	return Fault{
		FaultCode:   "s:Client",
		FaultString: "UPnPError",
		Detail: Detail{
			UPnPError: err,
		},
	}
}
