/*
Package rigol provides an interface to Rigol DS1000Z series oscilloscopes
(DS1054Z, DS1104Z, DS1104Z Plus and the -S models with a signal generator).

A Scope is an explicit session: it owns the connection pool to one
instrument and serializes multi-command sequences such as a chunked
capture, so that concurrent HTTP requests cannot interleave with them.

	scope, err := rigol.NewScope(rigol.Options{Addr: "192.168.1.50:5555"})
	if err != nil {
		return err
	}
	res, err := scope.Capture(ctx, rigol.CaptureRequest{Channel: 1})
*/
package rigol

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/scopelab/rigolab/capture"
	"github.com/scopelab/rigolab/comm"
	"github.com/scopelab/rigolab/scpi"
	"github.com/scopelab/rigolab/usbtmc"
)

// Channels is the number of analog inputs on a DS1000Z
const Channels = 4

// DefaultPort is the raw SCPI socket of the LAN interface
const DefaultPort = "5555"

var (
	// ErrBadChannel is returned for a channel outside 1-4
	ErrBadChannel = errors.New("channel must be in 1-4")

	// ErrTriggerTimeout is returned when WaitForTrigger gives up
	ErrTriggerTimeout = errors.New("timed out waiting for trigger")
)

// Transport names the physical link to the scope
type Transport string

const (
	// TCP is the raw socket on port 5555
	TCP Transport = "tcp"

	// USBTMC is the rear USB device port
	USBTMC Transport = "usbtmc"

	// Serial is an RS232 or USB-VCP bridge
	Serial Transport = "serial"
)

// Options configure a Scope
type Options struct {
	// Addr is host:port for TCP, or the device name for Serial.
	// A TCP address without a port gets DefaultPort.
	Addr string

	Transport Transport

	// Timeout bounds each request, zero gives scpi.DefaultTimeout
	Timeout time.Duration

	// Baud is the serial line rate
	Baud int

	// ChunkSize is the number of points per window in long captures,
	// zero gives capture.DefaultChunkSize
	ChunkSize int

	// DeepMemory is set for scopes with the 24M memory option
	DeepMemory bool

	// Handshaking queries the error queue after every setting command
	Handshaking bool

	Logger   *log.Logger
	Observer capture.Observer

	// Maker overrides the connection factory, e.g. to talk to a MockInstrument
	Maker comm.CreationFunc
}

// Scope is a session with one oscilloscope
type Scope struct {
	// mu serializes command sequences on the instrument
	mu sync.Mutex

	bus        *scpi.SCPI
	log        *log.Logger
	chunkSize  int
	deepMemory bool
	observer   capture.Observer
}

// NewScope creates a new scope session.  No connection is made until the
// first command is sent.
func NewScope(o Options) (*Scope, error) {
	timeout := o.Timeout
	if timeout == 0 {
		timeout = scpi.DefaultTimeout
	}
	maker := o.Maker
	if maker == nil {
		switch o.Transport {
		case TCP, "":
			addr := o.Addr
			if addr == "" {
				return nil, errors.New("rigol: no address given")
			}
			if !strings.Contains(addr, ":") {
				addr = addr + ":" + DefaultPort
			}
			maker = comm.BackingOffTCPConnMaker(addr, timeout)
		case USBTMC:
			maker = usbtmc.ConnMaker(usbtmc.RigolVID, usbtmc.DS1000ZPID, timeout)
		case Serial:
			baud := o.Baud
			if baud == 0 {
				baud = 115200
			}
			maker = comm.SerialConnMaker(o.Addr, baud, timeout)
		default:
			return nil, errors.Errorf("rigol: unknown transport %q", o.Transport)
		}
	}
	lg := o.Logger
	if lg == nil {
		lg = log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
	}
	chunk := o.ChunkSize
	if chunk <= 0 {
		chunk = capture.DefaultChunkSize
	}
	return &Scope{
		bus: &scpi.SCPI{
			Pool:        comm.NewPool(1, time.Hour, maker),
			Timeout:     timeout,
			Handshaking: o.Handshaking,
		},
		log:        lg.WithPrefix("rigol"),
		chunkSize:  chunk,
		deepMemory: o.DeepMemory,
		observer:   o.Observer,
	}, nil
}

// Close releases the connection to the scope
func (s *Scope) Close() error {
	return s.bus.Pool.Close()
}

// link issues commands without taking the session lock.  It is only
// used by code that already holds it.
type link struct {
	bus *scpi.SCPI
}

func (l link) set(cmds ...Command) error {
	for _, c := range cmds {
		if err := l.bus.Write(c.Encode()); err != nil {
			return errors.Wrapf(err, "rigol: %s", c.Header)
		}
	}
	return nil
}

func (l link) query(c Command) (string, error) {
	str, err := l.bus.ReadString(c.Encode())
	return str, errors.Wrapf(err, "rigol: %s", c.Encode())
}

func (l link) queryFloat(c Command) (float64, error) {
	f, err := l.bus.ReadFloat(c.Encode())
	return f, errors.Wrapf(err, "rigol: %s", c.Encode())
}

func (l link) queryInt(c Command) (int, error) {
	i, err := l.bus.ReadInt(c.Encode())
	return i, errors.Wrapf(err, "rigol: %s", c.Encode())
}

func (l link) queryBool(c Command) (bool, error) {
	b, err := l.bus.ReadBool(c.Encode())
	return b, errors.Wrapf(err, "rigol: %s", c.Encode())
}

func (l link) queryBlock(c Command) (scpi.Block, error) {
	blk, err := l.bus.ReadBlock(c.Encode())
	return blk, errors.Wrapf(err, "rigol: %s", c.Encode())
}

// locked runs fn with the session lock held
func (s *Scope) locked(fn func(l link) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(link{s.bus})
}

func (s *Scope) set(cmds ...Command) error {
	return s.locked(func(l link) error { return l.set(cmds...) })
}

func (s *Scope) getString(c Command) (str string, err error) {
	err = s.locked(func(l link) error {
		str, err = l.query(c)
		return err
	})
	return
}

func (s *Scope) getFloat(c Command) (f float64, err error) {
	err = s.locked(func(l link) error {
		f, err = l.queryFloat(c)
		return err
	})
	return
}

func (s *Scope) getBool(c Command) (b bool, err error) {
	err = s.locked(func(l link) error {
		b, err = l.queryBool(c)
		return err
	})
	return
}

// Identity returns the response to *IDN?,
// e.g. RIGOL TECHNOLOGIES,DS1104Z,DS1ZA000000000,00.04.04.SP3
func (s *Scope) Identity() (string, error) {
	return s.getString(Query("*IDN"))
}

// Clear clears the status registers and error queue
func (s *Scope) Clear() error {
	return s.set(Set("*CLS"))
}

// Raw sends a command to the scope and returns a response if it was a query,
// else a blank string
func (s *Scope) Raw(str string) (resp string, err error) {
	err = s.locked(func(l link) error {
		resp, err = l.bus.Raw(str)
		return err
	})
	return
}

// AllErrors drains the error queue of the scope
func (s *Scope) AllErrors() (str string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.AllErrorsString()
}
