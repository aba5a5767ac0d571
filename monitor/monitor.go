/*
Package monitor contains the machinery for a live measurement recorder.

It takes a set of automatic measurements from a scope every <interval> and
stores up to N of them to return over HTTP, or pushes each new sample to
websocket subscribers.
*/
package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Measurer takes a single automatic measurement, see rigol.Scope.Measure
type Measurer interface {
	Measure(ch int, item string) (float64, error)
}

// Item is one measurement to record
type Item struct {
	Channel int    `json:"channel" yaml:"channel" koanf:"channel"`
	Name    string `json:"item" yaml:"item" koanf:"item"`
}

// Key names the item in JSON output, e.g. CH1:VPP
func (i Item) Key() string {
	return fmt.Sprintf("CH%d:%s", i.Channel, i.Name)
}

// Sample is one round of measurements
type Sample struct {
	Time   time.Time          `json:"timestamp"`
	Values map[string]float64 `json:"values"`
}

// Monitor is a measurement recorder that stores ring buffers of values and
// can serve them over HTTP
type Monitor struct {
	m        Measurer
	items    []Item
	interval time.Duration
	log      *log.Logger

	mu     sync.Mutex
	times  *ring[time.Time]
	values map[string]*ring[float64]
	subs   map[chan Sample]struct{}
	stop   chan struct{}
	done   chan struct{}
}

type yield struct {
	Time   []time.Time          `json:"timestamp"`
	Values map[string][]float64 `json:"values"`
}

// ErrBadCapacity is returned by New for a capacity below one
var ErrBadCapacity = errors.New("monitor capacity must be at least 1")

// New creates a new Monitor and initializes the internal machinery.
// It does not poll until Start is called.
func New(m Measurer, items []Item, interval time.Duration, capacity int, logger *log.Logger) (*Monitor, error) {
	if capacity < 1 {
		return nil, ErrBadCapacity
	}
	if interval <= 0 {
		return nil, errors.Errorf("monitor interval must be positive, got %v", interval)
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
	}
	mon := &Monitor{
		m:        m,
		items:    items,
		interval: interval,
		log:      logger.WithPrefix("monitor"),
		times:    newRing[time.Time](capacity),
		values:   make(map[string]*ring[float64], len(items)),
		subs:     make(map[chan Sample]struct{}),
	}
	for _, it := range items {
		mon.values[it.Key()] = newRing[float64](capacity)
	}
	return mon, nil
}

// Start triggers operation of the monitor.  Starting a running monitor
// does nothing.
func (mon *Monitor) Start() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.stop != nil {
		return
	}
	mon.stop = make(chan struct{})
	mon.done = make(chan struct{})
	go mon.runner(mon.stop, mon.done)
}

// Stop halts the monitor and waits for the runner to exit.  It may be restarted.
func (mon *Monitor) Stop() {
	mon.mu.Lock()
	stop, done := mon.stop, mon.done
	mon.stop, mon.done = nil, nil
	mon.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (mon *Monitor) runner(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			if err := mon.Poll(t); err != nil {
				mon.log.Warn("error taking measurements", "err", err)
			}
		case <-stop:
			return
		}
	}
}

// Poll takes every measurement once and records it at time t.
// Nothing is recorded if any measurement fails.
func (mon *Monitor) Poll(t time.Time) error {
	s := Sample{Time: t, Values: make(map[string]float64, len(mon.items))}
	for _, it := range mon.items {
		v, err := mon.m.Measure(it.Channel, it.Name)
		if err != nil {
			return errors.Wrap(err, it.Key())
		}
		s.Values[it.Key()] = v
	}
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.times.Append(t)
	for k, v := range s.Values {
		mon.values[k].Append(v)
	}
	for ch := range mon.subs {
		select {
		case ch <- s:
		default:
			// slow subscriber, it misses this sample
		}
	}
	return nil
}

func (mon *Monitor) subscribe() chan Sample {
	ch := make(chan Sample, 16)
	mon.mu.Lock()
	mon.subs[ch] = struct{}{}
	mon.mu.Unlock()
	return ch
}

func (mon *Monitor) unsubscribe(ch chan Sample) {
	mon.mu.Lock()
	delete(mon.subs, ch)
	mon.mu.Unlock()
}

// HTTPYield returns an object over HTTP which contains the timestamps and
// an array of values per measurement
func (mon *Monitor) HTTPYield(w http.ResponseWriter, r *http.Request) {
	mon.mu.Lock()
	s := yield{Time: mon.times.Contiguous(), Values: make(map[string][]float64, len(mon.values))}
	for k, v := range mon.values {
		s.Values[k] = v.Contiguous()
	}
	mon.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HTTPStream upgrades the request to a websocket and pushes every new
// Sample as a JSON text message until the client goes away
func (mon *Monitor) HTTPStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		mon.log.Error("websocket upgrade failed", "err", err)
		return
	}
	defer ws.Close()
	ch := mon.subscribe()
	defer mon.unsubscribe(ch)

	// the client sends nothing, reading only detects that it left
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case s := <-ch:
			if err := ws.WriteJSON(s); err != nil {
				mon.log.Debug("websocket client dropped", "err", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
