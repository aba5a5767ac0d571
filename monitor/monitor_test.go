package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

// counter returns ch*100 + the number of calls so far
type counter struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *counter) Measure(ch int, item string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, errors.New("no signal")
	}
	c.calls++
	return float64(ch*100 + c.calls), nil
}

var items = []Item{{1, "VPP"}, {2, "FREQuency"}}

func TestPollAndYield(t *testing.T) {
	m := &counter{}
	mon, err := New(m, items, time.Second, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := mon.Poll(t0.Add(time.Duration(i) * time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	m.fail = true
	if err := mon.Poll(t0.Add(time.Hour)); err == nil || !strings.Contains(err.Error(), "CH1:VPP") {
		t.Errorf("expected the failing item named, got %v", err)
	}

	rec := httptest.NewRecorder()
	mon.HTTPYield(rec, httptest.NewRequest(http.MethodGet, "/monitor", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON, got %q", ct)
	}
	var got yield
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := yield{
		Time: []time.Time{t0.Add(time.Second), t0.Add(2 * time.Second)},
		Values: map[string][]float64{
			"CH1:VPP":       {103, 105},
			"CH2:FREQuency": {204, 206},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected yield (-want +got):\n%s", diff)
	}
}

func TestStartStop(t *testing.T) {
	m := &counter{}
	mon, err := New(m, items[:1], time.Millisecond, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	mon.Start()
	mon.Start()
	deadline := time.Now().Add(time.Second)
	for {
		mon.mu.Lock()
		n := mon.times.Len()
		mon.mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("monitor did not poll")
		}
		time.Sleep(time.Millisecond)
	}
	mon.Stop()
	mon.Stop()
	m.mu.Lock()
	calls := m.calls
	m.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls != calls {
		t.Error("expected no polls after Stop")
	}
}

func TestHTTPStream(t *testing.T) {
	mon, err := New(&counter{}, items, time.Second, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(mon.HTTPStream))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	// wait for the handler to subscribe
	deadline := time.Now().Add(time.Second)
	for {
		mon.mu.Lock()
		n := len(mon.subs)
		mon.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if err := mon.Poll(now); err != nil {
		t.Fatal(err)
	}
	var s Sample
	ws.SetReadDeadline(time.Now().Add(time.Second))
	if err := ws.ReadJSON(&s); err != nil {
		t.Fatal(err)
	}
	want := Sample{Time: now, Values: map[string]float64{"CH1:VPP": 101, "CH2:FREQuency": 202}}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("unexpected sample (-want +got):\n%s", diff)
	}
}

func TestNewRejectsBadSetup(t *testing.T) {
	items := []Item{{Channel: 1, Name: "VPP"}}
	if _, err := New(&counter{}, items, time.Second, 0, nil); err != ErrBadCapacity {
		t.Errorf("expected ErrBadCapacity for capacity 0, got %v", err)
	}
	if _, err := New(&counter{}, items, 0, 10, nil); err == nil {
		t.Error("expected a zero interval to be rejected")
	}
}
