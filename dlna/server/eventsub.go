package server

import (
	"net/http"
	"strconv"

	"github.com/anacrolix/log"
	"github.com/go-chi/chi/v5"

	"github.com/kestrelmedia/dms/dlna/eventing"
	"github.com/kestrelmedia/dms/dlna/upnp"
)

// handleSubscribe implements GENA SUBSCRIBE for ContentDirectory. Every other
// service advertises an EventSubURL but carries no state, so it just answers
// 200, matching spec §4.F's "other services return 200".
func (srv *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "service") != "ContentDirectory" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if sid := r.Header.Get("SID"); sid != "" {
		timeout, err := srv.events.Renew(sid, eventing.ParseTimeoutHeader(r.Header.Get("TIMEOUT")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusPreconditionFailed)
			return
		}
		w.Header().Set("SID", sid)
		w.Header().Set("TIMEOUT", timeoutHeader(timeout))
		w.WriteHeader(http.StatusOK)
		return
	}

	urls := upnp.ParseCallbackURLs(r.Header.Get("CALLBACK"))
	sid, timeout, err := srv.events.Subscribe(urls, eventing.ParseTimeoutHeader(r.Header.Get("TIMEOUT")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	}
	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", timeoutHeader(timeout))
	w.WriteHeader(http.StatusOK)

	srv.Logger.Levelf(log.Debug, "server: new subscription %s from %s", sid, r.RemoteAddr)
	srv.events.NotifyOne(sid, srv.catalog.SystemUpdateID())
}

// handleUnsubscribe implements GENA UNSUBSCRIBE. Unknown SIDs are not an
// error, per the eventing engine's idempotent Unsubscribe.
func (srv *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "service") != "ContentDirectory" {
		w.WriteHeader(http.StatusOK)
		return
	}
	_ = srv.events.Unsubscribe(r.Header.Get("SID"))
	w.WriteHeader(http.StatusOK)
}

func timeoutHeader(seconds int) string {
	return "Second-" + strconv.Itoa(seconds)
}
