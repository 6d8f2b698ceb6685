// Package cds implements the ContentDirectory SOAP action handlers: Browse,
// X_SetBookmark, GetSystemUpdateID, GetProtocolInfo, and the Samsung/search
// capability stubs real renderers probe for.
package cds

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kestrelmedia/dms/dlna"
	"github.com/kestrelmedia/dms/dlna/upnp"
	"github.com/kestrelmedia/dms/dlna/upnpav"
	"github.com/kestrelmedia/dms/internal/catalog"
)

// RootID is the ObjectID of the synthetic root container.
const RootID = "0"

// Catalog is the subset of *catalog.Catalog the dispatcher reads.
type Catalog interface {
	Roots() []string
	ScanDir(path string) []catalog.Entry
	DescribeFile(path string) *catalog.MediaItem
	SystemUpdateID() uint64
	ReportProgress(path, clientIP string, posSec float64) error
	GetProgress(path, clientIP string) float64
}

// StreamURL builds the stream URL for a media item, given the request host.
type StreamURL func(host string, item *catalog.MediaItem) string

// ThumbURL builds the thumbnail URL for a fingerprint, given the request
// host, or "" if no thumbnail exists.
type ThumbURL func(host string, item *catalog.MediaItem) string

// Service is the ContentDirectory SOAP action dispatcher.
type Service struct {
	Catalog   Catalog
	StreamURL StreamURL
	ThumbURL  ThumbURL
}

// EncodeID returns the ObjectID for an absolute filesystem path.
func EncodeID(absPath string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(absPath))
}

// DecodeID recovers the absolute filesystem path from an ObjectID.
func DecodeID(id string) (string, error) {
	if id == RootID {
		return "", nil
	}
	b, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("cds: bad ObjectID %q: %w", id, err)
	}
	return string(b), nil
}

// Handle dispatches a single ContentDirectory SOAP action by tagged name,
// returning the response's named argument map.
func (s *Service) Handle(action string, argsXML []byte, r *http.Request) (map[string]string, error) {
	switch action {
	case "Browse":
		return s.browse(argsXML, r)
	case "X_SetBookmark":
		return s.setBookmark(argsXML, r)
	case "GetSystemUpdateID":
		return map[string]string{"Id": strconv.FormatUint(s.Catalog.SystemUpdateID(), 10)}, nil
	case "GetProtocolInfo":
		return map[string]string{
			"Source": "",
			"Sink":   "http-get:*:video/mp4:*,http-get:*:video/x-matroska:*,http-get:*:video/mpeg:*",
		}, nil
	case "GetSearchCapabilities":
		return map[string]string{"SearchCaps": ""}, nil
	case "GetSortCapabilities":
		return map[string]string{"SortCaps": "dc:title"}, nil
	case "X_GetFeatureList":
		return map[string]string{"FeatureList": featureListXML}, nil
	default:
		return map[string]string{}, nil
	}
}

const featureListXML = `<Features xmlns="urn:schemas-upnp-org:av:avs" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="urn:schemas-upnp-org:av:avs http://www.upnp.org/schemas/av/avs.xsd">
	<Feature name="samsung.com_BASICVIEW" version="1">
		<container id="0" type="object.item.videoItem"/>
	</Feature>
</Features>`

type browseArgs struct {
	ObjectID       string
	BrowseFlag     string
	StartingIndex  int
	RequestedCount int
}

func (s *Service) browse(argsXML []byte, r *http.Request) (map[string]string, error) {
	var args browseArgs
	if err := xml.Unmarshal(argsXML, &args); err != nil {
		return nil, upnp.Errorf(upnp.InvalidArgsErrorCode, "bad Browse args: %v", err)
	}
	path, err := DecodeID(args.ObjectID)
	if err != nil {
		return nil, upnp.Errorf(upnp.NoSuchObjectErrorCode, "%v", err)
	}
	host := r.Host
	ip := clientIP(r)

	var objs []interface{}
	switch args.BrowseFlag {
	case "BrowseDirectChildren":
		objs = s.directChildren(args.ObjectID, path, host, ip)
	case "BrowseMetadata":
		objs = []interface{}{s.metadataObject(args.ObjectID, path, host, ip)}
	default:
		return nil, upnp.Errorf(upnp.ArgumentValueInvalidErrorCode, "unhandled browse flag: %v", args.BrowseFlag)
	}

	total := len(objs)
	low := args.StartingIndex
	if low > total {
		low = total
	}
	objs = objs[low:]
	if args.RequestedCount != 0 && args.RequestedCount < len(objs) {
		objs = objs[:args.RequestedCount]
	}

	inner, err := marshalAll(objs)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"TotalMatches":   strconv.Itoa(total),
		"NumberReturned": strconv.Itoa(len(objs)),
		"Result":         didlLite(inner),
		"UpdateID":       strconv.FormatUint(s.Catalog.SystemUpdateID(), 10),
	}, nil
}

func (s *Service) directChildren(objectID, path, host, clientIP string) []interface{} {
	if objectID == RootID {
		var objs []interface{}
		for _, root := range s.Catalog.Roots() {
			objs = append(objs, upnpav.Container{
				Object: upnpav.Object{
					ID:       EncodeID(root),
					ParentID: RootID,
					Title:    filepath.Base(root),
					Class:    upnpav.ClassStorageFolder,
				},
			})
		}
		return objs
	}
	var objs []interface{}
	for _, entry := range s.Catalog.ScanDir(path) {
		if entry.IsFolder {
			objs = append(objs, upnpav.Container{
				Object: upnpav.Object{
					ID:       EncodeID(entry.Path),
					ParentID: objectID,
					Title:    entry.Name,
					Class:    upnpav.ClassStorageFolder,
				},
			})
			continue
		}
		objs = append(objs, s.itemFor(entry.Item, objectID, host, clientIP))
	}
	return objs
}

func (s *Service) metadataObject(objectID, path, host, clientIP string) interface{} {
	if objectID == RootID {
		return upnpav.Container{
			Object: upnpav.Object{ID: RootID, ParentID: "-1", Title: "root", Class: upnpav.ClassStorageFolder},
		}
	}
	if info := s.fileItem(path); info != nil {
		return s.itemFor(info, parentObjectID(path, s.Catalog.Roots()), host, clientIP)
	}
	return upnpav.Container{
		Object: upnpav.Object{
			ID:       objectID,
			ParentID: parentObjectID(path, s.Catalog.Roots()),
			Title:    filepath.Base(path),
			Class:    upnpav.ClassStorageFolder,
		},
	}
}

func (s *Service) fileItem(path string) *catalog.MediaItem {
	if !catalog.IsValidMediaFile(filepath.Base(path)) {
		return nil
	}
	return s.Catalog.DescribeFile(path)
}

// parentObjectID returns the real parent's id, or RootID if path's parent
// is itself one of the configured roots.
func parentObjectID(path string, roots []string) string {
	parent := filepath.Dir(path)
	for _, root := range roots {
		if filepath.Clean(root) == filepath.Clean(parent) {
			return RootID
		}
	}
	return EncodeID(parent)
}

func (s *Service) itemFor(item *catalog.MediaItem, parentID, host, clientIP string) upnpav.Item {
	resumeMS := s.Catalog.GetProgress(item.Path, clientIP)
	res := upnpav.Resource{
		URL:          s.StreamURL(host, item),
		ProtocolInfo: fmt.Sprintf("http-get:*:%s:%s", item.MimeType, dlna.ContentFeatures{SupportRange: true}.String()),
		Duration:     dlna.FormatUPNPDuration(item.Duration),
		Size:         uint64(item.Size),
	}
	var dcmInfo *upnpav.DcmInfo
	if resumeMS > 1000 {
		res.ResumePosition = dlna.FormatDLNADuration(resumeMS / 1000)
		dcmInfo = &upnpav.DcmInfo{Value: fmt.Sprintf("BM=%d", int64(resumeMS))}
	}
	albumArt := ""
	if item.HasThumb && s.ThumbURL != nil {
		albumArt = s.ThumbURL(host, item)
	}
	return upnpav.Item{
		Object: upnpav.Object{
			ID:          EncodeID(item.Path),
			ParentID:    parentID,
			Title:       item.Name,
			Class:       upnpav.ClassVideoItem,
			AlbumArtURI: albumArt,
		},
		DcmInfo: dcmInfo,
		Res:     []upnpav.Resource{res},
	}
}

type bookmarkArgs struct {
	ObjectID  string
	PosSecond int64
}

func (s *Service) setBookmark(argsXML []byte, r *http.Request) (map[string]string, error) {
	var args bookmarkArgs
	if err := xml.Unmarshal(argsXML, &args); err != nil {
		return nil, upnp.Errorf(upnp.InvalidArgsErrorCode, "bad X_SetBookmark args: %v", err)
	}
	path, err := DecodeID(args.ObjectID)
	if err != nil {
		return nil, upnp.Errorf(upnp.NoSuchObjectErrorCode, "%v", err)
	}
	clientIP := clientIP(r)
	// PosSecond is, despite its name, milliseconds.
	if err := s.Catalog.ReportProgress(path, clientIP, float64(args.PosSecond)); err != nil {
		return nil, err
	}
	return map[string]string{}, nil
}

func clientIP(r *http.Request) string {
	host, _, err := splitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return addr, "", nil
	}
	return addr[:idx], addr[idx+1:], nil
}

func marshalAll(objs []interface{}) (string, error) {
	var sb strings.Builder
	for _, o := range objs {
		b, err := xml.Marshal(o)
		if err != nil {
			return "", err
		}
		sb.Write(b)
	}
	return sb.String(), nil
}

func didlLite(inner string) string {
	return `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" ` +
		`xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" ` +
		`xmlns:sec="http://www.sec.co.kr/" ` +
		`xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` + inner + `</DIDL-Lite>`
}
