// Package locker provides an HTTP middleware that lets one client reserve
// an instrument.  While locked, requests that would change its state are
// refused with 423 (locked).
package locker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/scopelab/rigolab/generichttp"
)

// Inject adds GET and POST /lock routes to a generichttp.HTTPer
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// State describes who holds the lock
type State struct {
	Locked bool      `json:"bool"`
	Holder string    `json:"holder,omitempty"`
	Since  time.Time `json:"since"`
}

// Locker is a non-blocking lock over an HTTP interface
type Locker struct {
	mu    sync.RWMutex
	state State

	// DoNotProtect is a list of final path elements the lock is not applied
	// to, e.g. "lock" so the holder can release it
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker on behalf of holder, which may be empty
func (l *Locker) Lock(holder string) {
	l.mu.Lock()
	l.state = State{Locked: true, Holder: holder, Since: time.Now()}
	l.mu.Unlock()
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.state = State{}
	l.mu.Unlock()
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.State().Locked
}

// State returns a copy of the lock state
func (l *Locker) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Locker) protected(urlPath string) bool {
	leaf := path.Base(urlPath)
	for _, str := range l.DoNotProtect {
		if leaf == str {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that refuses everything but GET requests and
// unprotected paths while locked.  Reads always pass.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := l.State()
		if st.Locked && r.Method != http.MethodGet && l.protected(r.URL.Path) {
			msg := "locked"
			if st.Holder != "" {
				msg = fmt.Sprintf("locked by %s since %s", st.Holder, st.Since.Format(time.RFC3339))
			}
			http.Error(w, msg, http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks from {'bool': true, 'holder': "name"}
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	st := State{}
	err := json.NewDecoder(r.Body).Decode(&st)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if st.Locked {
		l.Lock(st.Holder)
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns the lock State as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyWithJSON(w, l.State())
}
