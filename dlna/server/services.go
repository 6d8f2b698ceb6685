package server

import "net/http"

// action is the subset of cds.Service's dispatch shape every SOAP-controlled
// service implements: a tagged switch on action name, never reflection, per
// the dynamic-dispatch design note.
type action interface {
	Handle(action string, argsXML []byte, r *http.Request) (map[string]string, error)
}

// connectionManagerService answers the handful of ConnectionManager actions
// real renderers probe for before opening a stream. This server exposes a
// single implicit, un-managed connection, so connection IDs are a fixed "0".
type connectionManagerService struct{}

func (connectionManagerService) Handle(action string, argsXML []byte, r *http.Request) (map[string]string, error) {
	switch action {
	case "GetProtocolInfo":
		return map[string]string{
			"Source": "",
			"Sink":   "http-get:*:video/mp4:*,http-get:*:video/x-matroska:*,http-get:*:video/mpeg:*",
		}, nil
	case "GetCurrentConnectionIDs":
		return map[string]string{"ConnectionIDs": "0"}, nil
	case "GetCurrentConnectionInfo":
		return map[string]string{
			"RcsID":                 "-1",
			"AVTransportID":         "-1",
			"ProtocolInfo":          "",
			"PeerConnectionManager": "",
			"PeerConnectionID":      "-1",
			"Direction":             "Output",
			"Status":                "OK",
		}, nil
	default:
		return map[string]string{}, nil
	}
}

// mediaReceiverRegistrarService is the Microsoft-specific stub Windows Media
// Player and Xbox renderers require before they'll browse a ContentDirectory
// at all. Every device is unconditionally authorized and validated; this
// server enforces no DRM or device registration policy.
type mediaReceiverRegistrarService struct{}

func (mediaReceiverRegistrarService) Handle(action string, argsXML []byte, r *http.Request) (map[string]string, error) {
	switch action {
	case "IsAuthorized", "IsValidated":
		return map[string]string{"Result": "1"}, nil
	case "RegisterDevice":
		return map[string]string{"RegistrationRespMsg": ""}, nil
	default:
		return map[string]string{}, nil
	}
}
