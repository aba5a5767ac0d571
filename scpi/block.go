package scpi

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// MalformedBlockError is returned when a response is not a valid
// IEEE-488.2 definite length binary block
type MalformedBlockError struct {
	// Reason describes what was wrong with the header or payload
	Reason string

	Err error
}

func (e *MalformedBlockError) Error() string {
	if e.Err != nil {
		return "malformed binary block: " + e.Reason + ": " + e.Err.Error()
	}
	return "malformed binary block: " + e.Reason
}

// Unwrap returns the underlying error, if any
func (e *MalformedBlockError) Unwrap() error { return e.Err }

// Block is a definite length binary block, #<n><length><data>
type Block struct {
	// Declared is the payload length given in the header
	Declared int

	// Data is the payload, exactly Declared bytes long
	Data []byte

	// Raw is the full frame the block was read from, header included.
	// Data aliases the tail of Raw.
	Raw []byte
}

// MaxBlockLength bounds the payload a header may declare.  The deepest
// DS1000Z memory is 24M points, one byte each.
const MaxBlockLength = 32 << 20

// parseHeader decodes the digit count and length digits that follow '#'.
// hdr starts at the byte after '#'.
func parseHeader(hdr []byte) (declared, headerLen int, err error) {
	if len(hdr) < 1 {
		return 0, 0, &MalformedBlockError{Reason: "missing length digit count"}
	}
	n := int(hdr[0]) - '0' // shift down by 48, ASCII->int
	if n < 1 || n > 9 {
		return 0, 0, &MalformedBlockError{Reason: fmt.Sprintf("length digit count %q is not 1-9", hdr[0])}
	}
	if len(hdr) < 1+n {
		return 0, 0, &MalformedBlockError{Reason: fmt.Sprintf("header declares %d length digits, %d available", n, len(hdr)-1)}
	}
	digits := hdr[1 : 1+n]
	for _, d := range digits {
		if d < '0' || d > '9' {
			return 0, 0, &MalformedBlockError{Reason: fmt.Sprintf("length digits %q are not an integer", digits)}
		}
	}
	declared, err = strconv.Atoi(string(digits))
	if err != nil {
		return 0, 0, &MalformedBlockError{Reason: fmt.Sprintf("length digits %q are not an integer", digits), Err: err}
	}
	if declared > MaxBlockLength {
		return 0, 0, &MalformedBlockError{Reason: fmt.Sprintf("header declares %d bytes, more than the %d an instrument sends", declared, MaxBlockLength)}
	}
	return declared, 1 + n, nil
}

// ParseBlock locates the block in buf and returns it.  Bytes before the '#'
// marker and after the payload (e.g. a line terminator) are ignored.
func ParseBlock(buf []byte) (Block, error) {
	start := bytes.IndexByte(buf, '#')
	if start == -1 {
		return Block{}, &MalformedBlockError{Reason: "no # marker"}
	}
	declared, hlen, err := parseHeader(buf[start+1:])
	if err != nil {
		return Block{}, err
	}
	dataStart := start + 1 + hlen
	if remain := len(buf) - dataStart; remain < declared {
		return Block{}, &MalformedBlockError{Reason: fmt.Sprintf("header declares %d bytes, only %d remain", declared, remain)}
	}
	end := dataStart + declared
	return Block{Declared: declared, Data: buf[dataStart:end], Raw: buf[start:end]}, nil
}

// ReadBlock reads one block from r.  Anything before the '#' marker is
// discarded, the payload is read in full, and a line feed immediately
// following it is consumed if it has already arrived.
func ReadBlock(r *bufio.Reader) (Block, error) {
	blk, _, err := readBlock(r)
	return blk, err
}

// readBlock is ReadBlock, also reporting if the line feed was consumed
func readBlock(r *bufio.Reader) (Block, bool, error) {
	if _, err := r.ReadBytes('#'); err != nil {
		if err == io.EOF {
			return Block{}, false, &MalformedBlockError{Reason: "no # marker", Err: err}
		}
		return Block{}, false, err
	}
	nb, err := r.ReadByte()
	if err != nil {
		return Block{}, false, err
	}
	hdr := []byte{nb}
	if n := int(nb) - '0'; n >= 1 && n <= 9 {
		digits := make([]byte, n)
		if _, err = io.ReadFull(r, digits); err != nil {
			return Block{}, false, err
		}
		hdr = append(hdr, digits...)
	}
	declared, hlen, err := parseHeader(hdr)
	if err != nil {
		return Block{}, false, err
	}
	raw := make([]byte, 1+hlen+declared)
	raw[0] = '#'
	copy(raw[1:], hdr)
	n, err := io.ReadFull(r, raw[1+hlen:])
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Block{}, false, &MalformedBlockError{Reason: fmt.Sprintf("header declares %d bytes, only %d arrived", declared, n), Err: err}
		}
		return Block{}, false, err
	}
	blk := Block{Declared: declared, Data: raw[1+hlen:], Raw: raw}
	if r.Buffered() > 0 {
		if b, _ := r.Peek(1); b[0] == '\n' {
			r.ReadByte()
			return blk, true, nil
		}
	}
	return blk, false, nil
}

// EncodeBlock frames data as a definite length block with a nine digit
// length field, the way DS1000Z scopes send it
func EncodeBlock(data []byte) []byte {
	hdr := fmt.Sprintf("#9%09d", len(data))
	out := make([]byte, 0, len(hdr)+len(data))
	out = append(out, hdr...)
	return append(out, data...)
}
