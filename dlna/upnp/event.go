package upnp

import (
	"encoding/xml"
	"strconv"
)

// Variable is a single GENA event variable rendered as <Name val="value"/>.
type Variable struct {
	XMLName xml.Name
	Val     string `xml:"val,attr"`
}

// RCSEvent is the RCS-namespace <Event> document carried, XML-escaped, inside
// a NOTIFY's single LastChange property.
type RCSEvent struct {
	XMLName            xml.Name `xml:"urn:schemas-upnp-org:metadata-1-0/RCS/ Event"`
	SystemUpdateID     Variable `xml:"SystemUpdateID"`
	ContainerUpdateIDs Variable `xml:"ContainerUpdateIDs"`
	TransferIDs        Variable `xml:"TransferIDs"`
}

// NewRCSEvent builds the RCSEvent for a given SystemUpdateID value.
func NewRCSEvent(systemUpdateID uint64) RCSEvent {
	name := func(local string) xml.Name { return xml.Name{Local: local} }
	return RCSEvent{
		SystemUpdateID:     Variable{XMLName: name("SystemUpdateID"), Val: strconv.FormatUint(systemUpdateID, 10)},
		ContainerUpdateIDs: Variable{XMLName: name("ContainerUpdateIDs")},
		TransferIDs:        Variable{XMLName: name("TransferIDs")},
	}
}

// Property is a single GENA event property; LastChange holds the Event
// document as a plain string, which xml.Marshal escapes into character data.
type Property struct {
	LastChange string `xml:"LastChange"`
}

// PropertySet is the GENA NOTIFY body: <e:propertyset><e:property>...
type PropertySet struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:event-1-0 e:propertyset"`
	Property Property `xml:"e:property"`
}
