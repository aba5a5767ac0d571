/*
Package capture transfers long acquisitions from a scope in bounded chunks.

A DS1000Z holds up to 24M points of sample memory, far more than can be moved
in one :WAVeform:DATA? request within a sane timeout.  A Session splits the
request into windows of at most ChunkSize points, fetches them in ascending
order through a Transport, and reassembles a single calibrated waveform.

	sess, err := capture.NewSession(1, 12_000_000, capture.DefaultChunkSize, scaling)
	if err != nil {
		return err
	}
	res, err := sess.Run(ctx, transport)

A failure of any chunk aborts the capture.  Partial data is never returned.
*/
package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"

	"github.com/scopelab/rigolab/oscilloscope"
	"github.com/scopelab/rigolab/scpi"
)

// DefaultChunkSize is the number of points requested per window
const DefaultChunkSize = 250000

var (
	// ErrInvalidSize is returned when the total or chunk size is not positive
	ErrInvalidSize = errors.New("total points and chunk size must be positive")

	crcTable = crc.NewTable(crc.CRC32)
)

// Window is a 1-based, inclusive range of sample indices
type Window struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// Len is the number of points in the window
func (w Window) Len() int {
	return w.Stop - w.Start + 1
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d]", w.Start, w.Stop)
}

// Windows splits total points into ceil(total/chunk) ascending windows which
// cover [1, total] with no gaps or overlaps
func Windows(total, chunk int) ([]Window, error) {
	if total <= 0 || chunk <= 0 {
		return nil, ErrInvalidSize
	}
	n := (total + chunk - 1) / chunk
	out := make([]Window, n)
	for i := 0; i < n; i++ {
		stop := (i + 1) * chunk
		if stop > total {
			stop = total
		}
		out[i] = Window{Start: i*chunk + 1, Stop: stop}
	}
	return out, nil
}

// Transport is the instrument side of a chunked transfer
type Transport interface {
	// SetWindow selects the sample range returned by the next FetchBlock
	SetWindow(Window) error

	// FetchBlock requests the selected range and returns the raw response,
	// a definite length binary block
	FetchBlock() ([]byte, error)
}

// State is the lifecycle of a capture session
type State int

const (
	// Idle sessions have not started
	Idle State = iota

	// Acquiring sessions are fetching chunks
	Acquiring

	// Reassembling sessions have every chunk and are building the waveform
	Reassembling

	// Complete sessions produced a waveform
	Complete

	// Failed sessions aborted on a chunk error
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Acquiring:
		return "ACQUIRING"
	case Reassembling:
		return "REASSEMBLING"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Progress is called after each chunk is appended.  chunk is 0-based.
type Progress func(chunk, chunks int, w Window)

// Observer receives timing and size information about a capture, e.g. for metrics
type Observer interface {
	// ChunkDone is called after each successful chunk
	ChunkDone(w Window, bytes int, elapsed time.Duration)

	// CaptureDone is called once when the session completes or fails
	CaptureDone(points int, err error)
}

// CaptureFailedError is returned when a chunk could not be transferred or decoded
type CaptureFailedError struct {
	// Chunk is the 0-based index of the failed chunk
	Chunk int

	// Chunks is the total number of chunks in the capture
	Chunks int

	Window Window

	Err error
}

func (e *CaptureFailedError) Error() string {
	return fmt.Sprintf("capture failed on chunk %d/%d %s: %v", e.Chunk+1, e.Chunks, e.Window, e.Err)
}

// Unwrap returns the cause, so a *comm.TimeoutError or
// *scpi.MalformedBlockError can be recovered with errors.As
func (e *CaptureFailedError) Unwrap() error { return e.Err }

// Result is the outcome of a successful capture
type Result struct {
	Waveform oscilloscope.Waveform `json:"waveform"`

	// Chunks is the number of windows transferred
	Chunks int `json:"chunks"`

	// Checksum is the CRC-32 of the concatenated raw samples
	Checksum uint32 `json:"checksum"`

	// Elapsed is the wall time of the transfer
	Elapsed time.Duration `json:"elapsed"`
}

// Session owns one chunked capture.  It is used once and then discarded.
type Session struct {
	// Channel is the source channel, 1-4
	Channel int

	// Total is the number of points to capture
	Total int

	// ChunkSize is the maximum number of points per window
	ChunkSize int

	// Scaling converts the reassembled samples to volts and seconds
	Scaling oscilloscope.ScalingParameters

	// Progress, Observer and Logger are optional
	Progress Progress
	Observer Observer
	Logger   *log.Logger

	mu    sync.Mutex
	state State
}

// NewSession validates sizes and returns an Idle session
func NewSession(channel, total, chunk int, scaling oscilloscope.ScalingParameters) (*Session, error) {
	if total <= 0 || chunk <= 0 {
		return nil, ErrInvalidSize
	}
	return &Session{Channel: channel, Total: total, ChunkSize: chunk, Scaling: scaling}, nil
}

// State returns the current state of the session
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// Run fetches every window in order and reassembles the waveform.
// ctx is checked before each chunk; a request already in flight is bounded
// by the transport timeout.
func (s *Session) Run(ctx context.Context, tr Transport) (Result, error) {
	if s.State() != Idle {
		return Result{}, errors.Errorf("capture session already used, state %s", s.State())
	}
	windows, err := Windows(s.Total, s.ChunkSize)
	if err != nil {
		return Result{}, err
	}
	lg := s.logger().With("channel", s.Channel, "points", s.Total, "chunks", len(windows))
	s.setState(Acquiring)
	lg.Info("capture started")

	begin := time.Now()
	buf := make([]byte, 0, s.Total)
	crcv := crcTable.InitCrc()
	fail := func(i int, err error) (Result, error) {
		s.setState(Failed)
		ferr := &CaptureFailedError{Chunk: i, Chunks: len(windows), Window: windows[i], Err: err}
		lg.Error("capture failed", "err", ferr)
		if s.Observer != nil {
			s.Observer.CaptureDone(0, ferr)
		}
		return Result{}, ferr
	}
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return fail(i, err)
		}
		start := time.Now()
		if err := tr.SetWindow(w); err != nil {
			return fail(i, errors.Wrap(err, "setting window"))
		}
		raw, err := tr.FetchBlock()
		if err != nil {
			return fail(i, errors.Wrap(err, "fetching block"))
		}
		blk, err := scpi.ParseBlock(raw)
		if err != nil {
			return fail(i, err)
		}
		if len(blk.Data) != w.Len() {
			return fail(i, errors.Errorf("window holds %d points, block holds %d", w.Len(), len(blk.Data)))
		}
		buf = append(buf, blk.Data...)
		crcv = crcTable.UpdateCrc(crcv, blk.Data)
		elapsed := time.Since(start)
		lg.Info("chunk", "n", fmt.Sprintf("%d/%d", i+1, len(windows)), "window", w.String())
		lg.Debug("chunk transferred", "bytes", len(raw), "elapsed", elapsed)
		if s.Observer != nil {
			s.Observer.ChunkDone(w, len(raw), elapsed)
		}
		if s.Progress != nil {
			s.Progress(i, len(windows), w)
		}
	}

	s.setState(Reassembling)
	wav := oscilloscope.NewWaveform(s.Channel, buf, s.Scaling)
	res := Result{
		Waveform: wav,
		Chunks:   len(windows),
		Checksum: crcTable.CRC32(crcv),
		Elapsed:  time.Since(begin),
	}
	s.setState(Complete)
	lg.Info("capture complete", "elapsed", res.Elapsed, "sampleRate", wav.SampleRate)
	lg.Debug("capture checksum", "crc32", fmt.Sprintf("%08x", res.Checksum))
	if s.Observer != nil {
		s.Observer.CaptureDone(wav.Points, nil)
	}
	return res, nil
}

// Checksum computes the CRC-32 that Run reports for the given samples
func Checksum(samples []byte) uint32 {
	return crcTable.CRC32(crcTable.UpdateCrc(crcTable.InitCrc(), samples))
}
