package server

import (
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"os"

	"github.com/kestrelmedia/dms/dlna/upnp"
)

const rootDeviceType = "urn:schemas-upnp-org:device:MediaServer:1"

// deviceUUID derives the deterministic root device UUID from the local
// hostname: MD5(hostname), formatted as a standard UUID.
func deviceUUID() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("server: resolve hostname for device UUID: %w", err)
	}
	sum := md5.Sum([]byte(host))
	return upnp.FormatUUID(sum[:]), nil
}

// buildDeviceDescXML renders the root device description, embedding one
// <service> entry per serviceEntry and, when present, a single icon pointing
// at the custom server icon.
func (srv *Server) buildDeviceDescXML() ([]byte, error) {
	var svcList []upnp.Service
	for _, s := range srv.services {
		svcList = append(svcList, s.Service)
	}
	var icons []upnp.Icon
	if srv.hasCustomIcon() {
		icons = append(icons, upnp.Icon{
			Mimetype: "image/png",
			Width:    256,
			Height:   256,
			Depth:    32,
			URL:      "/static/images/custom_icon.png",
		})
	}
	desc := upnp.DeviceDesc{
		Xmlns:  "urn:schemas-upnp-org:device-1-0",
		NSDLNA: "urn:schemas-dlna-org:device-1-0",
		NSSEC:  "http://www.sec.co.kr/dlna",
		SpecVersion: upnp.SpecVersion{
			Major: 1,
			Minor: 0,
		},
		Device: upnp.Device{
			DeviceType:      rootDeviceType,
			FriendlyName:    srv.FriendlyName,
			Manufacturer:    "GoldMedia",
			ModelName:       "GoldMedia MediaServer",
			UDN:             "uuid:" + srv.uuid,
			PresentationURL: "/",
			ServiceList:     svcList,
			IconList:        icons,
			VendorXML: `
  <dlna:X_DLNACAP/>
  <dlna:X_DLNADOC>DMS-1.50</dlna:X_DLNADOC>
  <dlna:X_DLNADOC>M-DMS-1.50</dlna:X_DLNADOC>
  <sec:ProductCap>smi,DCM10,getMediaInfo.sec,getCaptionInfo.sec</sec:ProductCap>`,
		},
	}
	body, err := xml.MarshalIndent(desc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func (srv *Server) hasCustomIcon() bool {
	if srv.IconPath == "" {
		return false
	}
	_, err := os.Stat(srv.IconPath)
	return err == nil
}

// locationFor builds the LOCATION header value SSDP advertises for an
// interface address.
func (srv *Server) locationFor(host string) string {
	return fmt.Sprintf("http://%s/device.xml", host)
}
