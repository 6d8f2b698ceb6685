// Package upnpav implements the DIDL-Lite object model ContentDirectory
// Browse responses are built from: containers, items, and their resources.
package upnpav

import "encoding/xml"

// Object is the set of fields common to containers and items.
type Object struct {
	ID          string `xml:"id,attr"`
	ParentID    string `xml:"parentID,attr"`
	Restricted  int    `xml:"restricted,attr"`
	Title       string `xml:"dc:title"`
	Class       string `xml:"upnp:class"`
	AlbumArtURI string `xml:"upnp:albumArtURI,omitempty"`
}

// Container is a DIDL-Lite <container> element, a browsable directory.
type Container struct {
	XMLName xml.Name `xml:"container"`
	Object
}

// Resource is a DIDL-Lite <res> element: one playable/streamable rendition of
// an item.
type Resource struct {
	XMLName        xml.Name `xml:"res"`
	ProtocolInfo   string   `xml:"protocolInfo,attr"`
	Size           uint64   `xml:"size,attr,omitempty"`
	Duration       string   `xml:"duration,attr,omitempty"`
	ResumePosition string   `xml:"resumePosition,attr,omitempty"`
	URL            string   `xml:",chardata"`
}

// DcmInfo is the Samsung-family <sec:dcmInfo>BM=<ms></sec:dcmInfo> bookmark
// hint, present only when a resume position exists.
type DcmInfo struct {
	XMLName xml.Name `xml:"sec:dcmInfo"`
	Value   string   `xml:",chardata"`
}

// Item is a DIDL-Lite <item> element: a single playable video.
type Item struct {
	XMLName xml.Name `xml:"item"`
	Object
	DcmInfo *DcmInfo   `xml:",omitempty"`
	Res     []Resource `xml:"res"`
}

// ClassVideoItem is the upnp:class value for every video in this server; the
// system indexes no other media kind (spec Non-goals).
const ClassVideoItem = "object.item.videoItem"

// ClassStorageFolder is the upnp:class value for directories.
const ClassStorageFolder = "object.container.storageFolder"
