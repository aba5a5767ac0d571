// Package oscilloscope provides type and interface definitions for oscilloscopes
// along with the conversion from raw ADC codes to calibrated waveforms
package oscilloscope

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/scopelab/rigolab/scpi"
)

// ScalingParameters hold the affine constants that map a sample index to time
// and an unsigned byte sample to volts.  They come from the waveform preamble
// and do not change during a capture.
type ScalingParameters struct {
	// TimeIncrement is the temporal sample spacing in seconds
	TimeIncrement float64 `json:"timeIncrement"`

	// TimeOrigin is the time of the first sample relative to the trigger
	TimeOrigin float64 `json:"timeOrigin"`

	// VoltageIncrement is the size of one ADC code in volts
	VoltageIncrement float64 `json:"voltageIncrement"`

	// VoltageOrigin is the vertical offset in volts
	VoltageOrigin float64 `json:"voltageOrigin"`

	// VoltageReference is the ADC code of the vertical origin
	VoltageReference float64 `json:"voltageReference"`
}

// Volts converts one raw sample to volts
func (s ScalingParameters) Volts(b byte) float64 {
	return (float64(b)-s.VoltageReference)*s.VoltageIncrement + s.VoltageOrigin
}

// Code is the inverse of Volts, it returns the nearest ADC code to v,
// clamped to the byte range
func (s ScalingParameters) Code(v float64) byte {
	if s.VoltageIncrement == 0 {
		return byte(s.VoltageReference)
	}
	c := math.Round((v-s.VoltageOrigin)/s.VoltageIncrement + s.VoltageReference)
	if c < 0 {
		return 0
	}
	if c > 255 {
		return 255
	}
	return byte(c)
}

// Time returns the timestamp of sample i (0-based)
func (s ScalingParameters) Time(i int) float64 {
	return float64(i)*s.TimeIncrement + s.TimeOrigin
}

// SampleRate is the reciprocal of the time increment, or zero if it is unset
func (s ScalingParameters) SampleRate() float64 {
	if s.TimeIncrement == 0 {
		return 0
	}
	return 1 / s.TimeIncrement
}

// Physical computes the data scaled to real units
func (s ScalingParameters) Physical(raw []byte) []float64 {
	ret := make([]float64, len(raw))
	for i, b := range raw {
		ret[i] = s.Volts(b)
	}
	return ret
}

// TimeAxis generates n timestamps starting at the time origin
func (s ScalingParameters) TimeAxis(n int) []float64 {
	ret := make([]float64, n)
	for i := range ret {
		ret[i] = s.Time(i)
	}
	return ret
}

// Preamble is the parsed response to :WAVeform:PREamble?
type Preamble struct {
	// Format is 0 (BYTE), 1 (WORD) or 2 (ASC)
	Format int `json:"format"`

	// Type is 0 (NORMal), 1 (MAXimum) or 2 (RAW)
	Type int `json:"type"`

	Points int `json:"points"`
	Count  int `json:"count"`

	XIncrement float64 `json:"xIncrement"`
	XOrigin    float64 `json:"xOrigin"`
	XReference float64 `json:"xReference"`
	YIncrement float64 `json:"yIncrement"`
	YOrigin    float64 `json:"yOrigin"`
	YReference float64 `json:"yReference"`
}

// preambleFields is the number of comma separated values in a preamble
const preambleFields = 10

// ParsePreamble parses a comma separated preamble, e.g.
// 0,2,1200000,1,1.000000e-09,-6.000000e-04,0,4.000000e-02,0,127
func ParsePreamble(s string) (Preamble, error) {
	var p Preamble
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) != preambleFields {
		return p, errors.Errorf("preamble has %d fields, expected %d: %q", len(fields), preambleFields, s)
	}
	ints := []*int{&p.Format, &p.Type, &p.Points, &p.Count}
	for i, dst := range ints {
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return p, errors.Wrapf(err, "preamble field %d", i)
		}
		*dst = int(f)
	}
	floats := []*float64{&p.XIncrement, &p.XOrigin, &p.XReference, &p.YIncrement, &p.YOrigin, &p.YReference}
	for i, dst := range floats {
		idx := i + len(ints)
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[idx]), 64)
		if err != nil {
			return p, errors.Wrapf(err, "preamble field %d", idx)
		}
		*dst = f
	}
	return p, nil
}

// Scaling extracts the scaling constants from the preamble
func (p Preamble) Scaling() ScalingParameters {
	return ScalingParameters{
		TimeIncrement:    p.XIncrement,
		TimeOrigin:       p.XOrigin,
		VoltageIncrement: p.YIncrement,
		VoltageOrigin:    p.YOrigin,
		VoltageReference: p.YReference,
	}
}

// String renders the preamble in the wire format
func (p Preamble) String() string {
	g := func(f float64) string { return strconv.FormatFloat(f, 'e', 6, 64) }
	return fmt.Sprintf("%d,%d,%d,%d,%s,%s,%s,%s,%s,%s",
		p.Format, p.Type, p.Points, p.Count,
		g(p.XIncrement), g(p.XOrigin), g(p.XReference),
		g(p.YIncrement), g(p.YOrigin), g(p.YReference))
}

// Decode parses a binary block response and converts it to time and voltage
// arrays of equal length.  Malformed input returns a *scpi.MalformedBlockError
// and no partial output.
func Decode(raw []byte, s ScalingParameters) (t, v []float64, err error) {
	blk, err := scpi.ParseBlock(raw)
	if err != nil {
		return nil, nil, err
	}
	return s.TimeAxis(len(blk.Data)), s.Physical(blk.Data), nil
}

// Waveform describes a calibrated waveform recording from one channel
type Waveform struct {
	// Channel is the source channel, 1-4
	Channel int `json:"channel"`

	// Time holds the timestamp of each sample in seconds
	Time []float64 `json:"time"`

	// Volts holds each sample in volts, in acquisition order
	Volts []float64 `json:"volts"`

	// SampleRate is 1/TimeIncrement in samples per second
	SampleRate float64 `json:"sampleRate"`

	// Points is len(Volts)
	Points int `json:"points"`

	Scaling ScalingParameters `json:"scaling"`
}

// NewWaveform scales raw samples and generates the time axis once
func NewWaveform(channel int, samples []byte, s ScalingParameters) Waveform {
	return Waveform{
		Channel:    channel,
		Time:       s.TimeAxis(len(samples)),
		Volts:      s.Physical(samples),
		SampleRate: s.SampleRate(),
		Points:     len(samples),
		Scaling:    s,
	}
}

// Duration is the time spanned by the waveform
func (w Waveform) Duration() float64 {
	if len(w.Time) < 2 {
		return 0
	}
	return w.Time[len(w.Time)-1] - w.Time[0]
}

// Summary holds simple statistics of a waveform
type Summary struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	RMS  float64 `json:"rms"`
	Vpp  float64 `json:"vpp"`
}

// Summarize computes min, max, mean, rms and peak-to-peak of the voltages
func (w Waveform) Summarize() Summary {
	if len(w.Volts) == 0 {
		return Summary{}
	}
	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum, sq float64
	for _, v := range w.Volts {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
		sq += v * v
	}
	n := float64(len(w.Volts))
	s.Mean = sum / n
	s.RMS = math.Sqrt(sq / n)
	s.Vpp = s.Max - s.Min
	return s
}

// Oscilloscope describes the operations the HTTP layer and monitor need from a scope
type Oscilloscope interface {
	// Identity returns the response to *IDN?
	Identity() (string, error)

	// Preamble returns the waveform preamble of a channel
	Preamble(channel int) (Preamble, error)

	// ReadWaveform reads the on-screen waveform of a channel
	ReadWaveform(channel int) (Waveform, error)

	// Measure returns a single automatic measurement
	Measure(channel int, item string) (float64, error)

	// Screenshot returns the display as a PNG
	Screenshot() ([]byte, error)
}
