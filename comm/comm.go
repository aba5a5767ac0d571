/*
Package comm provides connection makers, a connection pool, and io wrappers
for talking to lab instruments over TCP, RS232, or USB.

Most usages of this package boil down to:
 1. pick a CreationFunc for the transport (BackingOffTCPConnMaker,
    SerialConnMaker, or anything returning an io.ReadWriteCloser)
 2. build a Pool around it, usually of size 1 for an instrument that
    only understands one conversation at a time
 3. for every request, Get a connection, wrap it with NewTimeout and
    NewTerminator, do the exchange, and ReturnWithError

A minimal example for a device that answers "*IDN?" with one line:

	pool := comm.NewPool(1, time.Minute, comm.BackingOffTCPConnMaker("192.168.1.70:5555", 3*time.Second))
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	term := comm.NewTerminator(comm.NewTimeout(conn, 5*time.Second), '\n', '\n')
	if _, err = term.Write([]byte("*IDN?")); err != nil {
		return err
	}
	line, err := term.ReadLine()
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a wrapper is used without an underlying connection
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// TimeoutError is returned when a request to the remote exceeds its deadline
type TimeoutError struct {
	// Op is "read", "write", or "dial"
	Op string

	// Deadline is the time allowed for the request
	Deadline time.Duration

	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded %v timeout: %v", e.Op, e.Deadline, e.Err)
}

// Unwrap returns the underlying error
func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout is always true, so TimeoutError satisfies net.Error style checks
func (e *TimeoutError) Timeout() bool { return true }

// asTimeout converts deadline errors from the net package into a *TimeoutError
// and passes everything else through untouched
func asTimeout(op string, d time.Duration, err error) error {
	if err == nil {
		return nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &TimeoutError{Op: op, Deadline: d, Err: err}
	}
	return err
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, asTimeout("dial", timeout, err)
	}
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr, retrying with
// an exponential backoff.  A refused connection is not retried, the
// instrument is simply not listening.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var (
			conn    net.Conn
			refused error
		)
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			if err != nil && strings.Contains(strings.ToLower(err.Error()), "refused") {
				refused = err
				return nil
			}
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * timeout,
			Clock:               backoff.SystemClock})
		if refused != nil {
			return nil, refused
		}
		if err != nil {
			return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens a serial port, for
// instruments reached through an RS232 cable or a USB virtual COM port
func SerialConnMaker(name string, baud int, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(&serial.Config{
			Name:        name,
			Baud:        baud,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
			ReadTimeout: timeout})
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}
