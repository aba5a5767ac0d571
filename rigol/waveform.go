package rigol

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/scopelab/rigolab/capture"
	"github.com/scopelab/rigolab/oscilloscope"
	"github.com/scopelab/rigolab/util"
)

// ScreenPoints is the number of points in a NORMal mode read
const ScreenPoints = 1200

// windowed adapts a locked link to capture.Transport
type windowed struct {
	l link
}

func (w windowed) SetWindow(win capture.Window) error {
	return w.l.set(Set(":WAVeform:STARt", win.Start), Set(":WAVeform:STOP", win.Stop))
}

func (w windowed) FetchBlock() ([]byte, error) {
	blk, err := w.l.queryBlock(Query(":WAVeform:DATA"))
	return blk.Raw, err
}

// waveformSetup selects the source, mode and byte format for :WAVeform:DATA?
func waveformSetup(l link, src Source, mode string) error {
	return l.set(
		Set(":WAVeform:SOURce", src),
		Set(":WAVeform:MODE", mode),
		Set(":WAVeform:FORMat", "BYTE"),
	)
}

// screenSetup prepares a NORMal mode read of the whole screen.  The window is
// reset since a previous RAW capture leaves it wherever its last chunk was.
func screenSetup(l link, src Source) error {
	if err := waveformSetup(l, src, "NORMal"); err != nil {
		return err
	}
	return l.set(Set(":WAVeform:STARt", 1), Set(":WAVeform:STOP", ScreenPoints))
}

func preamble(l link) (oscilloscope.Preamble, error) {
	str, err := l.query(Query(":WAVeform:PREamble"))
	if err != nil {
		return oscilloscope.Preamble{}, err
	}
	return oscilloscope.ParsePreamble(str)
}

// Preamble returns the waveform preamble of a channel in NORMal mode
func (s *Scope) Preamble(ch int) (oscilloscope.Preamble, error) {
	var pre oscilloscope.Preamble
	src, err := channel(ch)
	if err != nil {
		return pre, err
	}
	err = s.locked(func(l link) error {
		if err := screenSetup(l, src); err != nil {
			return err
		}
		var err error
		pre, err = preamble(l)
		return err
	})
	return pre, err
}

// ReadWaveform reads the waveform shown on screen for a channel, 1200
// points in one block, without stopping acquisition
func (s *Scope) ReadWaveform(ch int) (oscilloscope.Waveform, error) {
	var wav oscilloscope.Waveform
	src, err := channel(ch)
	if err != nil {
		return wav, err
	}
	err = s.locked(func(l link) error {
		if err := screenSetup(l, src); err != nil {
			return err
		}
		pre, err := preamble(l)
		if err != nil {
			return err
		}
		blk, err := l.queryBlock(Query(":WAVeform:DATA"))
		if err != nil {
			return err
		}
		wav = oscilloscope.NewWaveform(ch, blk.Data, pre.Scaling())
		return nil
	})
	return wav, err
}

// CaptureRequest describes a capture of sample memory
type CaptureRequest struct {
	// Channel is the source, 1-4
	Channel int `json:"channel"`

	// Points limits the capture to the first Points samples of memory.
	// Zero captures the whole memory depth.
	Points int `json:"points,omitempty"`

	// ChunkSize overrides the session chunk size when positive
	ChunkSize int `json:"chunk_size,omitempty"`

	Progress capture.Progress `json:"-"`
}

// Capture stops acquisition and transfers sample memory of one channel in
// RAW mode.  Memory deeper than the chunk size is read in windows.
// Acquisition is resumed afterwards, whether or not the capture succeeded.
func (s *Scope) Capture(ctx context.Context, req CaptureRequest) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture(ctx, link{s.bus}, req)
}

func (s *Scope) capture(ctx context.Context, l link, req CaptureRequest) (res capture.Result, err error) {
	src, err := channel(req.Channel)
	if err != nil {
		return res, err
	}
	lg := s.log.With("channel", req.Channel)
	if err = l.set(Set(":STOP")); err != nil {
		return res, err
	}
	defer func() {
		if rerr := l.set(Set(":RUN")); rerr != nil {
			lg.Warn("could not resume acquisition", "err", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()
	if err = waveformSetup(l, src, "RAW"); err != nil {
		return res, err
	}
	md, err := memoryDepth(l)
	if err != nil {
		return res, err
	}
	pre, err := preamble(l)
	if err != nil {
		return res, err
	}
	total := md.Points
	if total == 0 {
		total = pre.Points
	}
	if req.Points > 0 && req.Points < total {
		total = req.Points
	}
	chunk := s.chunkSize
	if req.ChunkSize > 0 {
		chunk = req.ChunkSize
	}
	lg.Info("capturing", "memoryDepth", md.Setting, "points", total, "sampleRate", pre.Scaling().SampleRate())
	sess, err := capture.NewSession(req.Channel, total, chunk, pre.Scaling())
	if err != nil {
		return res, err
	}
	sess.Logger = lg
	sess.Observer = s.observer
	sess.Progress = req.Progress
	return sess.Run(ctx, windowed{l})
}

// CaptureAll sets the deepest memory the enabled channels allow and
// captures each of them in turn.  The first failure aborts the sequence.
func (s *Scope) CaptureAll(ctx context.Context) (map[int]capture.Result, error) {
	active, err := s.ActiveChannels()
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, errors.New("no channels are enabled")
	}
	s.log.Info("capturing all channels", "channels", util.IntSliceToCSV(active))
	depth := strconv.Itoa(MaxMemoryDepth(len(active), s.deepMemory))
	if _, err := s.SetMemoryDepth(depth); err != nil {
		return nil, err
	}
	out := make(map[int]capture.Result, len(active))
	for _, ch := range active {
		res, err := s.Capture(ctx, CaptureRequest{Channel: ch})
		if err != nil {
			return nil, errors.Wrapf(err, "channel %d", ch)
		}
		out[ch] = res
	}
	return out, nil
}
