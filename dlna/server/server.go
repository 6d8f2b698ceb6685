// Package server composes the catalog, eventing table, SOAP dispatchers, and
// streaming handlers into the HTTP surface described in spec §4.F/§4.I, and
// drives one SSDP server per network interface.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/anacrolix/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelmedia/dms/dlna"
	"github.com/kestrelmedia/dms/dlna/cds"
	"github.com/kestrelmedia/dms/dlna/eventing"
	"github.com/kestrelmedia/dms/dlna/ssdp"
	"github.com/kestrelmedia/dms/dlna/upnp"
	"github.com/kestrelmedia/dms/internal/catalog"
	"github.com/kestrelmedia/dms/internal/mediaprobe"
	"github.com/kestrelmedia/dms/internal/webapi"
)

// Catalog is the superset of cds.Catalog this package needs: everything the
// ContentDirectory dispatcher reads, plus the safe-path guard the streaming
// and subtitle handlers enforce. *catalog.Catalog satisfies this directly.
type Catalog interface {
	cds.Catalog
	IsSafePath(path string) bool
}

// serviceEntry groups a service's descriptor, its static SCPD body, and the
// handler dispatching its SOAP actions.
type serviceEntry struct {
	Service upnp.Service
	SCPD    string
	Handler action
}

// Metrics are the ambient /metrics counters; none of this is part of the
// DLNA surface itself. soapActions and bytesStreamed are incremented by the
// SOAP and streaming handlers; ssdpResponses and notifyTotal are registered
// but nothing in this server increments them, so they always read 0.
type metrics struct {
	soapActions   *prometheus.CounterVec
	ssdpResponses *prometheus.CounterVec
	notifyTotal   *prometheus.CounterVec
	bytesStreamed prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		soapActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dms_soap_actions_total",
			Help: "SOAP actions handled, by action name.",
		}, []string{"action"}),
		ssdpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dms_ssdp_responses_total",
			Help: "SSDP M-SEARCH responses sent, by search target.",
		}, []string{"st"}),
		notifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dms_notify_total",
			Help: "GENA NOTIFY deliveries attempted, by outcome.",
		}, []string{"outcome"}),
		bytesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dms_bytes_streamed_total",
			Help: "Bytes written to stream responses (direct and transcoded).",
		}),
	}
	reg.MustRegister(m.soapActions, m.ssdpResponses, m.notifyTotal, m.bytesStreamed)
	return m
}

// Config collects everything Server needs from the rest of the process.
type Config struct {
	FriendlyName string
	IconPath     string
	Addr         string // HTTP listen address, e.g. ":9005"
	Interfaces   []net.Interface
	NotifyInterval time.Duration
	ThumbnailDir string
	Catalog      Catalog
	Prober       *mediaprobe.Prober
	Logger       log.Logger

	// EnableTranscoding and TranscodeExtensions gate ?transcode=true: a
	// request for an extension outside this set is always served direct.
	EnableTranscoding  bool
	TranscodeExtensions map[string]bool
}

// Server is the composed DLNA/UPnP HTTP + SSDP surface.
type Server struct {
	FriendlyName string
	IconPath     string
	Logger       log.Logger

	addr           string
	listener       net.Listener
	httpSrv        *http.Server
	interfaces     []net.Interface
	notifyInterval time.Duration
	thumbnailDir   string
	catalog        Catalog
	prober         *mediaprobe.Prober
	events         *eventing.Table
	registry       *prometheus.Registry
	metrics        *metrics

	enableTranscoding   bool
	transcodeExtensions map[string]bool

	webapi *webapi.API

	uuid          string
	services      []serviceEntry
	serviceByType map[string]action
	deviceDescXML []byte

	ssdpServers []*ssdp.Server
	closed      chan struct{}
}

// New builds a Server from cfg. Call Start to begin serving.
func New(cfg Config) (*Server, error) {
	uuid, err := deviceUUID()
	if err != nil {
		return nil, err
	}
	srv := &Server{
		FriendlyName:   cfg.FriendlyName,
		IconPath:       cfg.IconPath,
		Logger:         cfg.Logger,
		addr:           cfg.Addr,
		interfaces:     cfg.Interfaces,
		notifyInterval: cfg.NotifyInterval,
		thumbnailDir:   cfg.ThumbnailDir,
		catalog:        cfg.Catalog,
		prober:         cfg.Prober,
		uuid:           uuid,
		registry:       prometheus.NewRegistry(),
		closed:         make(chan struct{}),
		enableTranscoding:   cfg.EnableTranscoding,
		transcodeExtensions: cfg.TranscodeExtensions,
	}
	srv.metrics = newMetrics(srv.registry)
	srv.events = eventing.NewTable(cfg.Logger.WithNames("eventing"))
	srv.webapi = &webapi.API{
		Catalog: cfg.Catalog,
		Prober:  cfg.Prober,
		Logger:  cfg.Logger.WithNames("webapi"),
	}

	cdsService := &cds.Service{
		Catalog:   cfg.Catalog,
		StreamURL: srv.streamURL,
		ThumbURL:  srv.thumbURL,
	}
	srv.services = []serviceEntry{
		{
			Service: upnp.Service{
				ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
				ServiceId:   "urn:upnp-org:serviceId:ContentDirectory",
				ControlURL:  "/upnp/control/ContentDirectory",
				EventSubURL: "/upnp/event/ContentDirectory",
				SCPDURL:     "/scpd/ContentDirectory.xml",
			},
			SCPD:    contentDirectorySCPD,
			Handler: cdsService,
		},
		{
			Service: upnp.Service{
				ServiceType: "urn:schemas-upnp-org:service:ConnectionManager:1",
				ServiceId:   "urn:upnp-org:serviceId:ConnectionManager",
				ControlURL:  "/upnp/control/ConnectionManager",
				EventSubURL: "/upnp/event/ConnectionManager",
				SCPDURL:     "/scpd/ConnectionManager.xml",
			},
			SCPD:    connectionManagerSCPD,
			Handler: connectionManagerService{},
		},
		{
			Service: upnp.Service{
				ServiceType: "urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1",
				ServiceId:   "urn:microsoft.com:serviceId:X_MS_MediaReceiverRegistrar",
				ControlURL:  "/upnp/control/X_MS_MediaReceiverRegistrar",
				EventSubURL: "/upnp/event/X_MS_MediaReceiverRegistrar",
				SCPDURL:     "/scpd/X_MS_MediaReceiverRegistrar.xml",
			},
			SCPD:    mediaReceiverRegistrarSCPD,
			Handler: mediaReceiverRegistrarService{},
		},
	}
	srv.serviceByType = make(map[string]action, len(srv.services))
	for _, s := range srv.services {
		urn, err := upnp.ParseServiceType(s.Service.ServiceType)
		if err != nil {
			return nil, fmt.Errorf("server: parse service type %q: %w", s.Service.ServiceType, err)
		}
		srv.serviceByType[urn.Type] = s.Handler
	}
	srv.deviceDescXML, err = srv.buildDeviceDescXML()
	if err != nil {
		return nil, fmt.Errorf("server: build device description: %w", err)
	}
	return srv, nil
}

// Start binds the HTTP listener, begins serving, and brings up one SSDP
// server per configured interface, sending ssdp:alive NOTIFYs from each.
// It does not block.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", srv.addr, err)
	}
	srv.listener = ln
	srv.httpSrv = &http.Server{Handler: srv.routes()}
	go func() {
		if err := srv.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			srv.Logger.Levelf(log.Error, "server: http serve: %v", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	for _, iface := range srv.interfaces {
		s := &ssdp.Server{
			Interface: iface,
			Devices:   []string{rootDeviceType},
			Services: []string{
				"urn:schemas-upnp-org:service:ContentDirectory:1",
				"urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1",
			},
			Location: func(ip net.IP) string {
				return srv.locationFor(fmt.Sprintf("%s:%d", ip.String(), port))
			},
			Server:         dlna.ServerBanner,
			UUID:           srv.uuid,
			NotifyInterval: srv.notifyInterval,
			Logger:         srv.Logger.WithNames("ssdp", iface.Name),
		}
		if err := s.Init(); err != nil {
			srv.Logger.Levelf(log.Warning, "server: ssdp init on %s: %v", iface.Name, err)
			continue
		}
		srv.ssdpServers = append(srv.ssdpServers, s)
		go func() {
			if err := s.Serve(); err != nil {
				srv.Logger.Levelf(log.Debug, "server: ssdp serve on %s: %v", iface.Name, err)
			}
		}()
		go s.NotifyAlive()
	}
	if len(srv.ssdpServers) == 0 && len(srv.interfaces) > 0 {
		srv.Logger.Levelf(log.Warning, "server: SSDP disabled, no interface could bind")
	}
	go srv.sweepSubscriptions()
	return nil
}

// sweepSubscriptions periodically evicts expired GENA subscriptions.
func (srv *Server) sweepSubscriptions() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			srv.events.Sweep()
		case <-srv.closed:
			return
		}
	}
}

// NotifyChange fans out a SystemUpdateID change to every GENA subscriber.
// Wired as the catalog's OnChange callback.
func (srv *Server) NotifyChange(updateID uint64) {
	srv.events.NotifyAll(updateID)
}

// Close sends ssdp:byebye from every interface, then stops the HTTP and SSDP
// listeners.
func (srv *Server) Close() error {
	close(srv.closed)
	for _, s := range srv.ssdpServers {
		s.NotifyByeBye()
	}
	time.Sleep(500 * time.Millisecond)
	for _, s := range srv.ssdpServers {
		s.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.httpSrv.Shutdown(ctx)
}

func (srv *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(srv.bannerMiddleware)

	r.Get("/device.xml", srv.handleDeviceDesc)
	r.Get("/scpd/{service}.xml", srv.handleSCPD)
	r.Post("/upnp/control/{service}", srv.serviceControlHandler)
	r.Method("SUBSCRIBE", "/upnp/event/{service}", http.HandlerFunc(srv.handleSubscribe))
	r.Method("UNSUBSCRIBE", "/upnp/event/{service}", http.HandlerFunc(srv.handleUnsubscribe))
	r.Get("/static/.thumbnails/{hash}.jpg", srv.handleThumbnail)
	r.Get("/static/images/custom_icon.png", srv.handleIcon)

	r.Get("/stream/*", srv.handleStream)
	r.Head("/stream/*", srv.handleStream)
	r.Get("/subtitle/embedded/{idx}/*", srv.handleEmbeddedSubtitle)
	r.Get("/subtitle/*", srv.handleSubtitle)

	r.Route("/api", srv.webapi.Mount)

	r.Handle("/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}))
	return r
}

// bannerMiddleware sets the two headers every response from this server
// carries, matching the teacher's serveHTTP wrapper.
func (srv *Server) bannerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Ext", "")
		w.Header().Set("Server", dlna.ServerBanner)
		next.ServeHTTP(w, r)
	})
}

func (srv *Server) handleDeviceDesc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	_, _ = w.Write(srv.deviceDescXML)
}

func (srv *Server) handleSCPD(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	for _, s := range srv.services {
		if s.Service.SCPDURL == "/scpd/"+name+".xml" {
			w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
			_, _ = w.Write([]byte(s.SCPD))
			return
		}
	}
	http.NotFound(w, r)
}

// streamURL and thumbURL are the cds.StreamURL/cds.ThumbURL implementations
// this server supplies to the ContentDirectory dispatcher. The item's
// absolute path (already "/"-prefixed) is appended directly after /stream,
// so the safe-path guard at the other end sees the same path it indexed.
func (srv *Server) streamURL(host string, item *catalog.MediaItem) string {
	u := url.URL{Scheme: "http", Host: host, Path: "/stream" + item.Path}
	return u.String()
}

func (srv *Server) thumbURL(host string, item *catalog.MediaItem) string {
	if !item.HasThumb {
		return ""
	}
	u := url.URL{Scheme: "http", Host: host, Path: "/static/.thumbnails/" + item.Fingerprint + ".jpg"}
	return u.String()
}
