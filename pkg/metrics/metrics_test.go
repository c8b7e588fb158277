package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorHandshakes(t *testing.T) {
	c := NewCollector("", nil)

	c.HandshakeCompleted("dual_hybrid", 3*time.Millisecond)
	c.HandshakeCompleted("dual_hybrid", 4*time.Millisecond)
	c.HandshakeFailed("triple_hybrid", "no_compatible_configuration", time.Millisecond)

	if got := testutil.ToFloat64(c.handshakes.WithLabelValues("dual_hybrid", ResultSuccess)); got != 2 {
		t.Errorf("dual successes = %v", got)
	}
	if got := testutil.ToFloat64(c.handshakes.WithLabelValues("triple_hybrid", ResultFailure)); got != 1 {
		t.Errorf("triple failures = %v", got)
	}
	if got := testutil.ToFloat64(c.handshakeErrors.WithLabelValues("no_compatible_configuration")); got != 1 {
		t.Errorf("errors = %v", got)
	}
	if n := testutil.CollectAndCount(c.handshakeDuration); n != 2 {
		t.Errorf("duration series = %d, want one per mode", n)
	}
}

func TestCollectorSessions(t *testing.T) {
	c := NewCollector("", nil)

	c.SessionStarted()
	c.SessionStarted()
	c.SessionEnded()
	if got := testutil.ToFloat64(c.sessionsActive); got != 1 {
		t.Errorf("active = %v", got)
	}

	c.RecordTraffic("sent", 100)
	c.RecordTraffic("sent", 50)
	c.RecordTraffic("received", 70)
	if got := testutil.ToFloat64(c.sessionBytes.WithLabelValues("sent")); got != 150 {
		t.Errorf("sent bytes = %v", got)
	}
	if got := testutil.ToFloat64(c.records.WithLabelValues("sent")); got != 2 {
		t.Errorf("sent records = %v", got)
	}

	c.RecordRekey(nil)
	c.RecordRekey(errors.New("x"))
	c.FrameRejected()
	c.ConnectionRejected()
	if got := testutil.ToFloat64(c.rekeys.WithLabelValues(ResultFailure)); got != 1 {
		t.Errorf("failed rekeys = %v", got)
	}
	if testutil.ToFloat64(c.framesRejected) != 1 || testutil.ToFloat64(c.connsRejected) != 1 {
		t.Error("rejection counters not incremented")
	}
}

func TestCollectorExposition(t *testing.T) {
	c := NewCollector("kex", Labels{"instance": "node-1"})
	c.SessionStarted()

	want := `
# HELP kex_sessions_active Established sessions currently open.
# TYPE kex_sessions_active gauge
kex_sessions_active{instance="node-1"} 1
`
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(want), "kex_sessions_active"); err != nil {
		t.Error(err)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(body), "kex_sessions_active") {
		t.Errorf("handler answered %d: %s", rec.Code, body)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("", nil)
	b := NewCollector("", nil)
	a.FrameRejected()
	if testutil.ToFloat64(b.framesRejected) != 0 {
		t.Error("collectors share state")
	}
}

func TestRegisterRuntimeCollectors(t *testing.T) {
	c := NewCollector("", nil)
	if err := c.RegisterRuntimeCollectors(); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterRuntimeCollectors(); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestGlobalCollector(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	custom := NewCollector("custom", nil)
	SetGlobal(custom)
	if Global() != custom {
		t.Error("SetGlobal not applied")
	}
}

func TestCollectorConcurrency(t *testing.T) {
	c := NewCollector("", nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.SessionStarted()
			c.RecordTraffic("sent", 10)
			c.HandshakeCompleted("classical", time.Millisecond)
			c.SessionEnded()
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(c.sessionBytes.WithLabelValues("sent")); got != 500 {
		t.Errorf("sent bytes = %v", got)
	}
	if got := testutil.ToFloat64(c.sessionsActive); got != 0 {
		t.Errorf("active = %v", got)
	}
}
