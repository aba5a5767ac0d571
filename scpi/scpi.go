// Package scpi speaks SCPI to an instrument: terminated ASCII commands and
// queries, the error queue, and IEEE 488.2 definite length binary blocks.
package scpi

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/scopelab/rigolab/comm"
)

// DefaultTimeout is used for every request when SCPI.Timeout is zero
const DefaultTimeout = 30 * time.Second

// SCPI sends commands to an instrument over a pooled connection
type SCPI struct {
	Pool *comm.Pool

	// Timeout is the deadline for a single request/response exchange
	Timeout time.Duration

	// Handshaking appends an error query to every setting command
	Handshaking bool
}

// exchange leases a connection, wraps it, and runs fn.  A connection which
// saw an error is destroyed instead of returned.
func (s *SCPI) exchange(fn func(*comm.Terminator) error) (err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	term := comm.NewTerminator(comm.NewTimeout(conn, timeout), '\n', '\n')
	return fn(term)
}

// DeviceError is an entry from the instrument error queue, e.g.
// -113,"Undefined header"
type DeviceError struct {
	Code int
	Msg  string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%d,%q", e.Code, e.Msg)
}

// deviceError parses a response to :SYSTem:ERRor? and returns nil for
// error code zero
func deviceError(resp string) error {
	resp = strings.TrimSpace(resp)
	code, msg := resp, ""
	if idx := strings.IndexByte(resp, ','); idx != -1 {
		code, msg = resp[:idx], strings.Trim(resp[idx+1:], `"`)
	}
	i, err := strconv.Atoi(strings.TrimPrefix(code, "+"))
	if err != nil {
		return errors.Errorf("unparseable error queue response %q", resp)
	}
	if i == 0 {
		return nil
	}
	return &DeviceError{Code: i, Msg: msg}
}

// Write sends a setting command.  With Handshaking the status is cleared
// first and the error queue read back in the same message, so a rejected
// setting returns a *DeviceError.
func (s *SCPI) Write(cmds ...string) error {
	return s.exchange(func(term *comm.Terminator) error {
		str := strings.Join(cmds, " ")
		if s.Handshaking {
			str = "*CLS;" + str + ";:SYSTem:ERRor?"
		}
		if _, err := io.WriteString(term, str); err != nil {
			return errors.Wrapf(err, "writing %q", str)
		}
		if !s.Handshaking {
			return nil
		}
		resp, err := term.ReadLine()
		if err != nil {
			return errors.Wrapf(err, "reading error queue after %q", str)
		}
		return deviceError(string(resp))
	})
}

// WriteRead sends a query and returns the response line without its
// terminator
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	var resp []byte
	err := s.exchange(func(term *comm.Terminator) error {
		str := strings.Join(cmds, " ")
		if _, err := io.WriteString(term, str); err != nil {
			return errors.Wrapf(err, "writing %q", str)
		}
		line, err := term.ReadLine()
		if err != nil {
			return errors.Wrapf(err, "reading response to %q", str)
		}
		resp = line
		return nil
	})
	return resp, err
}

// ReadString returns the response to a query with surrounding space removed
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return string(bytes.TrimSpace(resp)), err
}

// ReadFloat parses the response to a query as a float, e.g. 1.000000e-09
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadBool parses the response to a query as 1/0, ON/OFF or true/false
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(resp) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(resp)
}

// ReadInt parses the response to a query as an integer.  Scientific
// notation such as 1.200000e+04 is accepted.
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	if i, err := strconv.Atoi(resp); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ReadBlock sends a query whose response is a definite length binary block
// and reads the whole block
func (s *SCPI) ReadBlock(cmds ...string) (Block, error) {
	var blk Block
	err := s.exchange(func(term *comm.Terminator) error {
		str := strings.Join(cmds, " ")
		if _, err := io.WriteString(term, str); err != nil {
			return errors.Wrapf(err, "writing %q", str)
		}
		r := term.Reader()
		var (
			terminated bool
			err        error
		)
		blk, terminated, err = readBlock(r)
		if err != nil {
			return errors.Wrapf(err, "reading block response to %q", str)
		}
		if !terminated {
			// the line feed is still in flight
			b, err := r.ReadByte()
			if err != nil {
				return errors.Wrapf(err, "reading terminator after block response to %q", str)
			}
			if b != '\n' {
				return &MalformedBlockError{Reason: fmt.Sprintf("payload followed by %q, not a line feed", b)}
			}
		}
		return nil
	})
	return blk, err
}

// Raw sends str verbatim.  Queries return their response, anything else
// returns "" and is not handshaken.
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.exchange(func(term *comm.Terminator) error {
		_, err := io.WriteString(term, str)
		return errors.Wrapf(err, "writing %q", str)
	})
}

// PopError reads the oldest entry of the error queue.  It is nil when the
// queue is empty.
func (s *SCPI) PopError() error {
	str, err := s.ReadString(":SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return deviceError(str)
}

// AllErrors returns all errors from the device as a list.  A communication
// failure ends the list and is included as its last element.
func (s *SCPI) AllErrors() []error {
	var errs []error
	for i := 0; i < maxErrorQueue; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		if !isDeviceError(err) {
			break
		}
	}
	return errs
}

// the DS1000Z error queue holds at most this many entries
const maxErrorQueue = 64

func isDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// AllErrorsString drains the queue like AllErrors and joins the entries
// with newlines.  The error is nil only for an empty queue, and otherwise
// wraps the first entry.
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i, e := range errs {
		strs[i] = e.Error()
	}
	return strings.Join(strs, "\n"), fmt.Errorf("%d errors in queue: %w", len(errs), errs[0])
}
