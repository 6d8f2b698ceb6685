// Package eventing implements GENA subscription management for the
// ContentDirectory service: SUBSCRIBE/UNSUBSCRIBE handling, per-subscriber
// SEQ counters, and NOTIFY fan-out of the RCS LastChange event.
package eventing

import (
	"bytes"
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/log"
	"github.com/google/uuid"

	"github.com/kestrelmedia/dms/dlna/upnp"
)

const (
	// DefaultTimeoutSeconds is used when a SUBSCRIBE request omits TIMEOUT or
	// sends TIMEOUT: Second-infinite.
	DefaultTimeoutSeconds = 1800
	minTimeoutSeconds     = 30
)

type subscriber struct {
	sid    string
	urls   []*url.URL
	expiry time.Time
	seq    uint32
	mu     sync.Mutex

	// queue serializes this subscriber's own deliveries (GENA requires SEQ
	// to arrive in order) while letting different subscribers' deliveries
	// run concurrently with each other and with the caller. deliverLoop is
	// the queue's sole consumer.
	queue chan uint64
	done  chan struct{}
}

// Table tracks live GENA subscriptions for a single service and delivers
// NOTIFY requests to each subscriber in turn.
type Table struct {
	Logger log.Logger

	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewTable returns an empty subscription table.
func NewTable(logger log.Logger) *Table {
	return &Table{Logger: logger, subs: make(map[string]*subscriber)}
}

// Subscribe registers a new subscriber and returns its SID and the accepted
// timeout in seconds. requestedTimeout of 0 selects DefaultTimeoutSeconds.
func (t *Table) Subscribe(callbacks []*url.URL, requestedTimeout int) (sid string, timeout int, err error) {
	if len(callbacks) == 0 {
		return "", 0, fmt.Errorf("eventing: SUBSCRIBE requires at least one CALLBACK url")
	}
	timeout = requestedTimeout
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	if timeout < minTimeoutSeconds {
		timeout = minTimeoutSeconds
	}
	sid = "uuid:" + mintSID(callbacks[0].String())
	sub := &subscriber{
		sid:    sid,
		urls:   callbacks,
		expiry: time.Now().Add(time.Duration(timeout) * time.Second),
		queue:  make(chan uint64, 32),
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	t.subs[sid] = sub
	t.mu.Unlock()
	go t.deliverLoop(sub)
	return sid, timeout, nil
}

// Renew extends an existing subscription's expiry. It returns an error if
// the SID is unknown (the subscriber must resend SUBSCRIBE without a SID).
func (t *Table) Renew(sid string, requestedTimeout int) (timeout int, err error) {
	t.mu.Lock()
	sub, ok := t.subs[sid]
	t.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("eventing: unknown SID %q", sid)
	}
	timeout = requestedTimeout
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	if timeout < minTimeoutSeconds {
		timeout = minTimeoutSeconds
	}
	sub.mu.Lock()
	sub.expiry = time.Now().Add(time.Duration(timeout) * time.Second)
	sub.mu.Unlock()
	return timeout, nil
}

// mintSID derives a subscription id from the current time and the
// subscriber's primary callback URL, matching the MD5-based UUID scheme used
// throughout this server (device UUID, fingerprints).
func mintSID(callback string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d|%s", time.Now().UnixNano(), callback)))
	return upnp.FormatUUID(sum[:])
}

// Unsubscribe removes a subscription. Unknown SIDs are not an error: GENA
// treats UNSUBSCRIBE as idempotent.
func (t *Table) Unsubscribe(sid string) error {
	t.mu.Lock()
	sub, ok := t.subs[sid]
	delete(t.subs, sid)
	t.mu.Unlock()
	if ok {
		close(sub.done)
	}
	return nil
}

// Sweep drops subscriptions past their expiry. Callers run this
// periodically; it is not triggered by Subscribe/Renew/Unsubscribe.
func (t *Table) Sweep() {
	now := time.Now()
	var expired []*subscriber
	t.mu.Lock()
	for sid, sub := range t.subs {
		if now.After(sub.expiry) {
			expired = append(expired, sub)
			delete(t.subs, sid)
		}
	}
	t.mu.Unlock()
	for _, sub := range expired {
		close(sub.done)
	}
}

// NotifyAll enqueues a LastChange NOTIFY carrying systemUpdateID for every
// current subscriber. Each subscriber has its own delivery goroutine, so
// this returns as soon as the event is queued rather than waiting on any
// subscriber's HTTP round trip.
func (t *Table) NotifyAll(systemUpdateID uint64) {
	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()
	for _, sub := range subs {
		t.enqueue(sub, systemUpdateID)
	}
}

// NotifyOne enqueues the initial event for a single freshly minted
// subscription.
func (t *Table) NotifyOne(sid string, systemUpdateID uint64) {
	t.mu.Lock()
	sub := t.subs[sid]
	t.mu.Unlock()
	if sub == nil {
		return
	}
	t.enqueue(sub, systemUpdateID)
}

// enqueue hands systemUpdateID to sub's delivery goroutine. The queue is
// large enough that a live subscriber never backs up the catalog; a
// subscriber whose queue is actually full is unresponsive and gets dropped.
func (t *Table) enqueue(sub *subscriber, systemUpdateID uint64) {
	select {
	case sub.queue <- systemUpdateID:
	case <-sub.done:
	default:
		t.Logger.Levelf(log.Warning, "eventing: subscriber %s delivery queue full, dropping subscription", sub.sid)
		t.Unsubscribe(sub.sid)
	}
}

// deliverLoop is the sole consumer of sub.queue: it sends NOTIFYs to sub one
// at a time, in order, so SEQ is never delivered out of sequence, while
// never blocking NotifyAll/NotifyOne or the catalog that calls them.
func (t *Table) deliverLoop(sub *subscriber) {
	for {
		select {
		case systemUpdateID := <-sub.queue:
			t.sendNotify(sub, systemUpdateID)
		case <-sub.done:
			return
		}
	}
}

func (t *Table) sendNotify(sub *subscriber, systemUpdateID uint64) {
	sub.mu.Lock()
	seq := sub.seq
	sub.seq++
	sub.mu.Unlock()

	body, err := eventBody(systemUpdateID)
	if err != nil {
		t.Logger.Levelf(log.Error, "eventing: marshal LastChange: %v", err)
		return
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for _, dest := range sub.urls {
		corrID := uuid.NewString()
		req, err := http.NewRequest("NOTIFY", dest.String(), bytes.NewReader(body))
		if err != nil {
			t.Logger.Levelf(log.Debug, "eventing[%s]: build NOTIFY for %s: %v", corrID, dest, err)
			continue
		}
		req.Header.Set("CONTENT-TYPE", `text/xml; charset="utf-8"`)
		req.Header.Set("NT", "upnp:event")
		req.Header.Set("NTS", "upnp:propchange")
		req.Header.Set("SID", sub.sid)
		req.Header.Set("SEQ", strconv.FormatUint(uint64(seq), 10))
		resp, err := client.Do(req)
		if err != nil {
			t.Logger.Levelf(log.Debug, "eventing[%s]: NOTIFY %s failed, dropping subscription: %v", corrID, dest, err)
			t.Unsubscribe(sub.sid)
			continue
		}
		resp.Body.Close()
	}
}

// eventBody renders the GENA NOTIFY body: an RCS Event document, XML
// escaped, wrapped as the single LastChange property of a propertyset.
func eventBody(systemUpdateID uint64) ([]byte, error) {
	eventXML, err := xml.Marshal(upnp.NewRCSEvent(systemUpdateID))
	if err != nil {
		return nil, err
	}
	set := upnp.PropertySet{Property: upnp.Property{LastChange: string(eventXML)}}
	body, err := xml.Marshal(set)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// ParseTimeoutHeader parses a "Second-N" TIMEOUT header value, returning 0
// (meaning "use the default") for "Second-infinite" or malformed input.
func ParseTimeoutHeader(v string) int {
	const prefix = "Second-"
	if !strings.HasPrefix(v, prefix) {
		return 0
	}
	n, err := strconv.Atoi(v[len(prefix):])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
