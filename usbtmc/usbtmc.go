/*
Package usbtmc implements the bulk transfer mode of the USB Test and
Measurement Class and exposes a device as an io.ReadWriteCloser, so that
it can stand in for a TCP socket behind a comm.Pool.

To send a message, a 12 byte DEV_DEP_MSG_OUT header is prepended and the
transfer is padded to a multiple of 4 bytes.

To receive a message, a REQUEST_DEV_DEP_MSG_IN header is sent on the Out
endpoint and the response, a header plus up to the requested number of bytes,
is read from the In endpoint.  Responses larger than one transfer, such as
a 250k point waveform block, are delivered over several requests until the
device sets the EOM bit.
*/
package usbtmc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/scopelab/rigolab/comm"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	headerLen = 12

	msgOut   = 0x01 // DEV_DEP_MSG_OUT
	msgInReq = 0x02 // REQUEST_DEV_DEP_MSG_IN

	// maxTransfer is the number of payload bytes requested per bulk-in transfer
	maxTransfer = 1 << 20
)

const (
	// RigolVID is the USB vendor ID of Rigol Technologies
	RigolVID = 0x1AB1

	// DS1000ZPID is the product ID of DS1000Z series scopes
	DS1000ZPID = 0x04CE
)

// bTagGen is a concurrent-safe bTag generator.  Tags run 1..255 and wrap,
// zero is never issued.
type bTagGen struct {
	// embedded mutex for concurrent safety
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 0, min: 1}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(tag byte, datalen int, eom bool) [headerLen]byte {
	/* data map by offset:
	0 MsgID
	1 bTag, 1 <= x <= 255
	2 bTagInverse
	3 Reserved
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bit 0 EOM
	9-11 reserved
	*/
	out := [headerLen]byte{}
	out[0] = msgOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	if eom {
		out[8] = 0x01
	}
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, the device is told to ignore term chars
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = msgInReq
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02 // TermCharEnabled
		out[9] = *terminator
	}
	return out
}

// decBulkInHeader validates the header of a DEV_DEP_MSG_IN response against
// the tag of the request and returns the payload size and the EOM bit
func decBulkInHeader(hdr []byte, tag byte) (size int, eom bool, err error) {
	if len(hdr) < headerLen {
		return 0, false, errors.Errorf("usbtmc: only received %d bytes, need %d to form header", len(hdr), headerLen)
	}
	if hdr[0] != msgInReq {
		return 0, false, errors.Errorf("usbtmc: unexpected MsgID %d in bulk-in header", hdr[0])
	}
	if hdr[1] != tag || hdr[2] != invbTag(tag) {
		return 0, false, errors.Errorf("usbtmc: bTag mismatch, sent %d received %d", tag, hdr[1])
	}
	return int(binary.LittleEndian.Uint32(hdr[4:8])), hdr[8]&0x01 != 0, nil
}

// pad4 pads b with zeros to a multiple of 4 bytes
func pad4(b []byte) []byte {
	if residual := len(b) % 4; residual > 0 {
		b = append(b, make([]byte, 4-residual)...)
	}
	return b
}

// Device hides the details of USB and exposes an io.ReadWriteCloser
type Device struct {
	// Timeout bounds each bulk transfer.  Zero means no timeout.
	Timeout time.Duration

	tags   *bTagGen
	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	closer func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint

	// pending holds response bytes not yet consumed by Read
	pending []byte
}

// Open opens the first device matching vid and pid and claims its bulk endpoints
func Open(vid, pid uint16) (*Device, error) {
	d := &Device{tags: newBTagGen(), ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("usbtmc: no device with VID %04x PID %04x", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	d.iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	for _, ep := range d.iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionIn && d.in == nil:
			d.in, err = d.iface.InEndpoint(ep.Number)
		case ep.Direction == gousb.EndpointDirectionOut && d.out == nil:
			d.out, err = d.iface.OutEndpoint(ep.Number)
		}
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	if d.in == nil || d.out == nil {
		d.Close()
		return nil, errors.New("usbtmc: device has no bulk in/out endpoint pair")
	}
	return d, nil
}

// ConnMaker returns a function that opens the device, for use with comm.NewPool
func ConnMaker(vid, pid uint16, timeout time.Duration) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		d, err := Open(vid, pid)
		if err != nil {
			return nil, err
		}
		d.Timeout = timeout
		return d, nil
	}
}

func (d *Device) transferCtx() (context.Context, context.CancelFunc) {
	if d.Timeout > 0 {
		return context.WithTimeout(context.Background(), d.Timeout)
	}
	return context.WithCancel(context.Background())
}

func (d *Device) transferErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &comm.TimeoutError{Op: op, Deadline: d.Timeout, Err: err}
	}
	return err
}

// Write sends b as one DEV_DEP_MSG_OUT message with EOM set
func (d *Device) Write(b []byte) (int, error) {
	hdr := encBulkOutHeader(d.tags.nextbTag(), len(b), true)
	msg := pad4(append(hdr[:], b...))
	ctx, cancel := d.transferCtx()
	defer cancel()
	n, err := d.out.WriteContext(ctx, msg)
	if err != nil {
		return 0, d.transferErr("write", err)
	}
	if n < len(msg) {
		return 0, io.ErrShortWrite
	}
	// a new command discards whatever was left of the previous response
	d.pending = nil
	return len(b), nil
}

// Read returns bytes of the current response, requesting another transfer
// from the device when the buffer runs dry
func (d *Device) Read(b []byte) (int, error) {
	if len(d.pending) == 0 {
		if err := d.request(); err != nil {
			return 0, err
		}
	}
	n := copy(b, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// request performs one REQUEST_DEV_DEP_MSG_IN / DEV_DEP_MSG_IN exchange
func (d *Device) request() error {
	tag := d.tags.nextbTag()
	hdr := encBulkInHeader(tag, maxTransfer, nil)
	ctx, cancel := d.transferCtx()
	defer cancel()
	if _, err := d.out.WriteContext(ctx, hdr[:]); err != nil {
		return d.transferErr("write", err)
	}
	pkt := d.in.Desc.MaxPacketSize
	if pkt <= 0 {
		pkt = 512
	}
	// the transfer may arrive in several USB packets
	buf := make([]byte, 0, headerLen+pkt)
	chunk := make([]byte, 64*pkt)
	size := -1
	for size < 0 || len(buf) < headerLen+size {
		n, err := d.in.ReadContext(ctx, chunk)
		if err != nil {
			return d.transferErr("read", err)
		}
		if n == 0 {
			return errors.Errorf("usbtmc: bulk-in transfer ended after %d bytes", len(buf))
		}
		buf = append(buf, chunk[:n]...)
		if size < 0 && len(buf) >= headerLen {
			size, _, err = decBulkInHeader(buf, tag)
			if err != nil {
				return err
			}
		}
	}
	d.pending = buf[headerLen : headerLen+size]
	return nil
}

// Close releases the interface, the device, and the USB context
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if cerr := d.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}
