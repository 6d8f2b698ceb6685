package eventing

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestParseTimeoutHeader(t *testing.T) {
	assert.Equal(t, 0, ParseTimeoutHeader(""))
	assert.Equal(t, 0, ParseTimeoutHeader("Second-infinite"))
	assert.Equal(t, 0, ParseTimeoutHeader("garbage"))
	assert.Equal(t, 1800, ParseTimeoutHeader("Second-1800"))
}

func TestSubscribeRequiresCallback(t *testing.T) {
	tbl := NewTable(log.Default)
	_, _, err := tbl.Subscribe(nil, 0)
	assert.Error(t, err)
}

func TestSubscribeAssignsDefaultTimeout(t *testing.T) {
	tbl := NewTable(log.Default)
	cb, err := url.Parse("http://10.0.0.5:4004/event")
	require.NoError(t, err)
	sid, timeout, err := tbl.Subscribe([]*url.URL{cb}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
	assert.Equal(t, DefaultTimeoutSeconds, timeout)
}

func TestRenewUnknownSIDFails(t *testing.T) {
	tbl := NewTable(log.Default)
	_, err := tbl.Renew("uuid:does-not-exist", 0)
	assert.Error(t, err)
}

func TestUnsubscribeUnknownSIDIsNotAnError(t *testing.T) {
	tbl := NewTable(log.Default)
	assert.NoError(t, tbl.Unsubscribe("uuid:never-subscribed"))
}

// TestNotifySEQMonotonic checks that each NOTIFY delivered to a subscriber
// carries a strictly increasing SEQ, per spec's per-subscriber SEQ invariant.
// Delivery happens on the subscriber's own goroutine (see deliverLoop), so
// NotifyAll/NotifyOne return before the request lands; the test polls for
// all three to arrive rather than asserting immediately.
func TestNotifySEQMonotonic(t *testing.T) {
	var mu sync.Mutex
	var seqs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seqs = append(seqs, r.Header.Get("SEQ"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tbl := NewTable(log.Default)
	cb, err := url.Parse(srv.URL)
	require.NoError(t, err)
	sid, _, err := tbl.Subscribe([]*url.URL{cb}, 0)
	require.NoError(t, err)

	tbl.NotifyOne(sid, 1)
	tbl.NotifyAll(2)
	tbl.NotifyAll(3)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "1", "2"}, seqs)
}

// TestNotifyAllDoesNotBlockOnSlowSubscriber checks that NotifyAll returns
// promptly even when a subscriber's NOTIFY delivery is slow, since delivery
// now runs on the subscriber's own goroutine rather than inline.
func TestNotifyAllDoesNotBlockOnSlowSubscriber(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	tbl := NewTable(log.Default)
	cb, err := url.Parse(srv.URL)
	require.NoError(t, err)
	_, _, err = tbl.Subscribe([]*url.URL{cb}, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		tbl.NotifyAll(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("NotifyAll blocked on a slow subscriber's delivery")
	}
}

func TestSweepDropsExpiredSubscriptions(t *testing.T) {
	tbl := NewTable(log.Default)
	cb, err := url.Parse("http://10.0.0.5:4004/event")
	require.NoError(t, err)
	sid, _, err := tbl.Subscribe([]*url.URL{cb}, 30)
	require.NoError(t, err)

	// Force the subscriber's expiry into the past.
	tbl.mu.Lock()
	sub := tbl.subs[sid]
	tbl.mu.Unlock()
	sub.mu.Lock()
	sub.expiry = sub.expiry.Add(-time.Hour)
	sub.mu.Unlock()

	tbl.Sweep()

	_, err = tbl.Renew(sid, 0)
	assert.Error(t, err, "swept subscription should no longer be renewable")
}
