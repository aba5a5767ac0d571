package locker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	l := New()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := l.Check(ok)
	cases := []struct {
		method, path string
		locked       bool
		want         int
	}{
		{http.MethodPost, "/scope/run", false, http.StatusOK},
		{http.MethodPost, "/scope/run", true, http.StatusLocked},
		{http.MethodPost, "/scope/trigger/lockout", true, http.StatusLocked},
		{http.MethodGet, "/scope/identity", true, http.StatusOK},
		{http.MethodPost, "/scope/lock", true, http.StatusOK},
	}
	for _, c := range cases {
		if c.locked {
			l.Lock("")
		} else {
			l.Unlock()
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(c.method, c.path, nil))
		if w.Code != c.want {
			t.Errorf("%s %s locked=%v: expected %d, got %d", c.method, c.path, c.locked, c.want, w.Code)
		}
	}
}

func TestHTTPSet(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": true, "holder": "bench2"}`)))
	if !l.Locked() {
		t.Fatal("expected the locker to be locked")
	}

	w = httptest.NewRecorder()
	l.HTTPGet(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	st := State{}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Locked || st.Holder != "bench2" || st.Since.IsZero() {
		t.Errorf("unexpected lock state %+v", st)
	}

	w = httptest.NewRecorder()
	l.Check(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))
	if !strings.Contains(w.Body.String(), "bench2") {
		t.Errorf("expected the holder to be named, got %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !l.Locked() {
		t.Error("expected a malformed request to leave the lock alone")
	}
}
