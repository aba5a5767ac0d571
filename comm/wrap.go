package comm

import (
	"bufio"
	"bytes"
	"io"
	"time"
)

// Deadliner is implemented by connections which support deadlines, e.g. net.Conn
type Deadliner interface {
	SetDeadline(time.Time) error
}

// Timeout wraps a ReadWriter with a deadline for the whole request.
// Connections which do not implement Deadliner rely on their own
// transport timeout, e.g. serial.Config.ReadTimeout, which ends a read
// with (0, io.EOF).  That is reported as a *TimeoutError as well.
type Timeout struct {
	rw       io.ReadWriter
	timeout  time.Duration
	deadline bool
}

// NewTimeout sets a deadline of now+timeout on rw if it supports one and
// returns a wrapper that reports exceeded deadlines as *TimeoutError
func NewTimeout(rw io.ReadWriter, timeout time.Duration) *Timeout {
	dl, ok := rw.(Deadliner)
	if ok && timeout > 0 {
		dl.SetDeadline(time.Now().Add(timeout))
	}
	return &Timeout{rw: rw, timeout: timeout, deadline: ok}
}

// Read implements io.Reader
func (t *Timeout) Read(b []byte) (int, error) {
	n, err := t.rw.Read(b)
	if n == 0 && err == io.EOF && !t.deadline && len(b) > 0 {
		return 0, &TimeoutError{Op: "read", Deadline: t.timeout, Err: err}
	}
	return n, asTimeout("read", t.timeout, err)
}

// Write implements io.Writer
func (t *Timeout) Write(b []byte) (int, error) {
	n, err := t.rw.Write(b)
	return n, asTimeout("write", t.timeout, err)
}

// Terminator appends a transmit terminator to every write and buffers reads
// so that lines ending in the receive terminator and binary blocks can be
// pulled from the same stream
type Terminator struct {
	rw io.ReadWriter
	br *bufio.Reader
	rx byte
	tx byte
}

// NewTerminator returns a new Terminator around rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReaderSize(rw, 64*1024), rx: rx, tx: tx}
}

// Write sends b with the tx terminator appended if it is not already present
func (t *Terminator) Write(b []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	if len(b) == 0 || b[len(b)-1] != t.tx {
		buf := make([]byte, len(b), len(b)+1)
		copy(buf, b)
		b = append(buf, t.tx)
	}
	n, err := t.rw.Write(b)
	if n > 0 && n == len(b) {
		// don't report the terminator as user data
		n--
	}
	return n, err
}

// Read reads buffered bytes from the stream, with no regard for terminators
func (t *Terminator) Read(b []byte) (int, error) {
	return t.br.Read(b)
}

// Reader exposes the buffered reader for protocol parsers
func (t *Terminator) Reader() *bufio.Reader {
	return t.br
}

// ReadLine reads up to the rx terminator and returns the line without it.
// A trailing carriage return is stripped, and blank lines left over from a
// previous binary transfer are skipped.
func (t *Terminator) ReadLine() ([]byte, error) {
	for {
		line, err := t.br.ReadBytes(t.rx)
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, ErrTerminatorNotFound
			}
			return line, err
		}
		line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}
