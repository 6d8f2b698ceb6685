package server

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/anacrolix/log"

	"github.com/kestrelmedia/dms/dlna"
	"github.com/kestrelmedia/dms/dlna/soap"
	"github.com/kestrelmedia/dms/dlna/upnp"
)

// argOrder pins the response argument order the UPnP AV spec expects for
// actions whose relative order clients actually check; map iteration order
// would otherwise be random. Unlisted actions fall back to a stable
// alphabetical order, which is harmless for single- or order-insensitive
// argument sets.
var argOrder = map[string][]string{
	"Browse":                   {"Result", "NumberReturned", "TotalMatches", "UpdateID"},
	"GetProtocolInfo":          {"Source", "Sink"},
	"GetCurrentConnectionInfo": {"RcsID", "AVTransportID", "ProtocolInfo", "PeerConnectionManager", "PeerConnectionID", "Direction", "Status"},
}

func orderedArgs(action string, args map[string]string) []string {
	if order, ok := argOrder[action]; ok {
		names := make([]string, 0, len(order))
		for _, n := range order {
			if _, ok := args[n]; ok {
				names = append(names, n)
			}
		}
		return names
	}
	names := make([]string, 0, len(args))
	for n := range args {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// marshalSOAPResponse wraps response arguments as <u:{action}Response
// xmlns:u="urn">...</u:{action}Response>.
func marshalSOAPResponse(action, urn string, args map[string]string) ([]byte, error) {
	var body strings.Builder
	fmt.Fprintf(&body, `<u:%sResponse xmlns:u="%s">`, action, urn)
	for _, name := range orderedArgs(action, args) {
		arg := soap.Arg{XMLName: xml.Name{Local: name}, Value: args[name]}
		b, err := xml.Marshal(arg)
		if err != nil {
			return nil, err
		}
		body.Write(b)
	}
	fmt.Fprintf(&body, `</u:%sResponse>`, action)
	return []byte(body.String()), nil
}

// serviceControlHandler parses the SOAPACTION header, decodes the envelope,
// dispatches to the named service, and wraps the result (or a UPnP fault) in
// a SOAP 1.1 envelope.
func (srv *Server) serviceControlHandler(w http.ResponseWriter, r *http.Request) {
	sa, err := upnp.ParseActionHTTPHeader(r.Header.Get("SOAPACTION"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var env soap.Envelope
	if err := xml.NewDecoder(r.Body).Decode(&env); err != nil {
		srv.Logger.Levelf(log.Warning, "server: decode SOAP envelope: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	svc, ok := srv.serviceByType[sa.ServiceURN.Type]
	if !ok {
		srv.writeFault(w, sa.Action, upnp.InvalidActionError)
		return
	}

	srv.metrics.soapActions.WithLabelValues(sa.Action).Inc()
	respArgs, err := svc.Handle(sa.Action, env.Body.Action, r)
	if err != nil {
		srv.Logger.Levelf(log.Warning, "server: action %s failed: %v", sa.Action, err)
		srv.writeFault(w, sa.Action, upnp.ConvertError(err))
		return
	}
	respXML, err := marshalSOAPResponse(sa.Action, sa.ServiceURN.Raw, respArgs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	srv.writeEnvelope(w, http.StatusOK, respXML)
}

func (srv *Server) writeFault(w http.ResponseWriter, action string, upnpErr *upnp.Error) {
	fault := soap.NewFault("UPnPError", upnpErr)
	body, err := xml.Marshal(fault)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	srv.writeEnvelope(w, http.StatusInternalServerError, body)
}

func (srv *Server) writeEnvelope(w http.ResponseWriter, code int, body []byte) {
	full := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" standalone="yes"?>`+
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" `+
		`s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`+
		`<s:Body>%s</s:Body></s:Envelope>`, body)
	// Samsung Frame TVs refuse to render an empty ContentDirectory unless
	// this escape is undone; harmless for every other renderer.
	full = strings.Replace(full, "&#34;", `"`, -1)
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.Header().Set("Ext", "")
	w.Header().Set("Server", dlna.ServerBanner)
	w.WriteHeader(code)
	_, _ = w.Write([]byte(full))
}
