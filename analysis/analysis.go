/*
Package analysis computes frequency-domain views of captured waveforms.

FFT produces a single-sided amplitude spectrum in volts; PowerSpectrum
produces a Welch-averaged power spectral density in V²/Hz.  FindPeaks,
THD and SNR operate on the result of FFT.
*/
package analysis

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/scopelab/rigolab/oscilloscope"
)

var (
	// ErrUnknownWindow is returned for a window name not in Windows
	ErrUnknownWindow = errors.New("unknown window function")

	// ErrShortWaveform is returned when there are too few samples to transform
	ErrShortWaveform = errors.New("at least two samples are needed for a spectrum")
)

// floor keeps log10 finite for empty bins
const floor = 1e-12

// Options controls FFT
type Options struct {
	// Window is applied before the transform, Hann if empty
	Window Window

	// KeepDC skips subtracting the mean before windowing
	KeepDC bool

	// NoPad transforms exactly len(Volts) points.  Otherwise the input is
	// zero padded to a power of two at least twice its length.
	NoPad bool
}

// Spectrum is a single-sided amplitude spectrum
type Spectrum struct {
	// Frequency of each bin in Hz
	Frequency []float64 `json:"frequency"`

	// Magnitude of each bin in volts (peak), corrected for window gain
	Magnitude []float64 `json:"magnitude"`

	// Phase of each bin in degrees
	Phase []float64 `json:"phase"`

	SampleRate float64 `json:"sampleRate"`
	Window     Window  `json:"window"`
}

// DB returns the magnitudes in dBV
func (s Spectrum) DB() []float64 {
	out := make([]float64, len(s.Magnitude))
	for i, m := range s.Magnitude {
		out[i] = dB(m)
	}
	return out
}

// bin returns the index of the bin nearest f
func (s Spectrum) bin(f float64) int {
	if len(s.Frequency) < 2 {
		return 0
	}
	df := s.Frequency[1] - s.Frequency[0]
	i := int(math.Round((f - s.Frequency[0]) / df))
	if i < 0 {
		return 0
	}
	if i >= len(s.Frequency) {
		return len(s.Frequency) - 1
	}
	return i
}

func dB(v float64) float64 {
	return 20 * math.Log10(v+floor)
}

// sampleRate prefers the waveform's own rate and falls back to the time axis
func sampleRate(wav oscilloscope.Waveform) (float64, error) {
	if wav.SampleRate > 0 && !math.IsInf(wav.SampleRate, 0) {
		return wav.SampleRate, nil
	}
	if len(wav.Time) >= 2 {
		if dt := wav.Time[1] - wav.Time[0]; dt > 0 {
			return 1 / dt, nil
		}
	}
	return 0, errors.New("waveform has no usable sample rate")
}

// fftLength is the padded transform length for n samples
func fftLength(n int) int {
	l := 1
	for l < n {
		l <<= 1
	}
	if l < 2*n {
		l *= 2
	}
	return l
}

// FFT computes the amplitude spectrum of wav
func FFT(wav oscilloscope.Waveform, opts Options) (Spectrum, error) {
	n := len(wav.Volts)
	if n < 2 {
		return Spectrum{}, ErrShortWaveform
	}
	fs, err := sampleRate(wav)
	if err != nil {
		return Spectrum{}, err
	}
	if opts.Window == "" {
		opts.Window = Hann
	}
	win, err := opts.Window.Coefficients(n)
	if err != nil {
		return Spectrum{}, err
	}

	nfft := n
	if !opts.NoPad {
		nfft = fftLength(n)
	}
	seq := make([]float64, nfft)
	copy(seq, wav.Volts)
	if !opts.KeepDC {
		mean := stat.Mean(wav.Volts, nil)
		floats.AddConst(-mean, seq[:n])
	}
	floats.Mul(seq[:n], win)
	// coherent gain of the window, times n
	gain := floats.Sum(win)

	fft := fourier.NewFFT(nfft)
	coeff := fft.Coefficients(nil, seq)
	s := Spectrum{
		Frequency:  make([]float64, len(coeff)),
		Magnitude:  make([]float64, len(coeff)),
		Phase:      make([]float64, len(coeff)),
		SampleRate: fs,
		Window:     opts.Window,
	}
	for i, c := range coeff {
		s.Frequency[i] = fft.Freq(i) * fs
		m := cmplx.Abs(c) / gain
		if i > 0 {
			m *= 2
		}
		s.Magnitude[i] = m
		s.Phase[i] = cmplx.Phase(c) * 180 / math.Pi
	}
	return s, nil
}

// PSD is a power spectral density
type PSD struct {
	// Frequency of each bin in Hz
	Frequency []float64 `json:"frequency"`

	// Power of each bin in V²/Hz
	Power []float64 `json:"power"`

	SampleRate float64 `json:"sampleRate"`
}

// PowerSpectrum estimates the power spectral density of wav with Welch's
// method: segments of the given length overlapping by half, each with its
// mean removed and the window applied, and their periodograms averaged.
// A segment of zero selects min(256, len(Volts)).
func PowerSpectrum(wav oscilloscope.Waveform, window Window, segment int) (PSD, error) {
	n := len(wav.Volts)
	if n < 2 {
		return PSD{}, ErrShortWaveform
	}
	fs, err := sampleRate(wav)
	if err != nil {
		return PSD{}, err
	}
	if segment <= 0 || segment > n {
		segment = 256
		if n < segment {
			segment = n
		}
	}
	if window == "" {
		window = Hann
	}
	win, err := window.Coefficients(segment)
	if err != nil {
		return PSD{}, err
	}
	scale := 1 / (fs * floats.Dot(win, win))

	fft := fourier.NewFFT(segment)
	bins := segment/2 + 1
	psd := PSD{
		Frequency:  make([]float64, bins),
		Power:      make([]float64, bins),
		SampleRate: fs,
	}
	for i := range psd.Frequency {
		psd.Frequency[i] = fft.Freq(i) * fs
	}

	step := segment / 2
	if step == 0 {
		step = 1
	}
	seq := make([]float64, segment)
	var coeff []complex128
	count := 0
	for start := 0; start+segment <= n; start += step {
		copy(seq, wav.Volts[start:start+segment])
		floats.AddConst(-stat.Mean(seq, nil), seq)
		floats.Mul(seq, win)
		coeff = fft.Coefficients(coeff, seq)
		for i, c := range coeff {
			p := real(c)*real(c) + imag(c)*imag(c)
			psd.Power[i] += p * scale
		}
		count++
	}
	floats.Scale(1/float64(count), psd.Power)
	// fold the negative frequencies in; DC and an even Nyquist bin are unique
	last := bins
	if segment%2 == 0 {
		last--
	}
	for i := 1; i < last; i++ {
		psd.Power[i] *= 2
	}
	return psd, nil
}

// Peak is a local maximum of a spectrum
type Peak struct {
	Index     int     `json:"index"`
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`
	DB        float64 `json:"db"`
}

// PeakOptions controls FindPeaks
type PeakOptions struct {
	// Count is the most peaks returned, 10 if zero
	Count int

	// MinDB is the lowest peak height in dBV.  Zero selects 10 dB above the
	// median bin.
	MinDB float64

	// MinDistance is the closest two peaks may be in Hz.  When two are
	// closer, the taller one wins.
	MinDistance float64
}

// minProminence is how far in dB a peak must stand above the higher of
// the lowest points between it and the next taller bin on either side
const minProminence = 3

// FindPeaks returns the dominant peaks of s, tallest first
func FindPeaks(s Spectrum, opts PeakOptions) []Peak {
	db := s.DB()
	if len(db) < 3 {
		return nil
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	threshold := opts.MinDB
	if threshold == 0 {
		sorted := append([]float64(nil), db...)
		sort.Float64s(sorted)
		threshold = stat.Quantile(0.5, stat.Empirical, sorted, nil) + 10
	}
	distance := 1
	if opts.MinDistance > 0 {
		df := s.Frequency[1] - s.Frequency[0]
		distance = int(opts.MinDistance / df)
		if distance < 1 {
			distance = 1
		}
	}

	var cand []int
	for i := 1; i < len(db)-1; i++ {
		if db[i] > db[i-1] && db[i] >= db[i+1] && db[i] >= threshold && prominence(db, i) >= minProminence {
			cand = append(cand, i)
		}
	}
	sort.SliceStable(cand, func(a, b int) bool { return db[cand[a]] > db[cand[b]] })

	var out []Peak
	for _, i := range cand {
		if len(out) == opts.Count {
			break
		}
		near := false
		for _, p := range out {
			if abs(p.Index-i) < distance {
				near = true
				break
			}
		}
		if near {
			continue
		}
		out = append(out, Peak{Index: i, Frequency: s.Frequency[i], Magnitude: s.Magnitude[i], DB: db[i]})
	}
	return out
}

func prominence(x []float64, i int) float64 {
	left := x[i]
	for j := i - 1; j >= 0 && x[j] <= x[i]; j-- {
		left = math.Min(left, x[j])
	}
	right := x[i]
	for j := i + 1; j < len(x) && x[j] <= x[i]; j++ {
		right = math.Min(right, x[j])
	}
	return x[i] - math.Max(left, right)
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// Harmonic is one overtone of a fundamental
type Harmonic struct {
	N         int     `json:"n"`
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`

	// DBc is the level relative to the fundamental
	DBc float64 `json:"dbc"`
}

// Distortion is the result of THD
type Distortion struct {
	// THD is the total harmonic distortion in percent
	THD float64 `json:"thd"`

	Fundamental          float64    `json:"fundamental"`
	FundamentalMagnitude float64    `json:"fundamentalMagnitude"`
	Harmonics            []Harmonic `json:"harmonics"`
}

// THD measures total harmonic distortion against the given fundamental
// frequency, or the tallest peak if fundamental is not positive.  Harmonics
// 2 through harmonics+1 below the last bin are included.  A spectrum
// without a peak yields the zero Distortion.
func THD(s Spectrum, fundamental float64, harmonics int) Distortion {
	if len(s.Frequency) == 0 {
		return Distortion{}
	}
	var mag float64
	if fundamental <= 0 {
		peaks := FindPeaks(s, PeakOptions{Count: 1})
		if len(peaks) == 0 {
			return Distortion{}
		}
		fundamental, mag = peaks[0].Frequency, peaks[0].Magnitude
	} else {
		mag = s.Magnitude[s.bin(fundamental)]
	}

	d := Distortion{Fundamental: fundamental, FundamentalMagnitude: mag}
	top := s.Frequency[len(s.Frequency)-1]
	sum := 0.
	for n := 2; n < harmonics+2; n++ {
		f := float64(n) * fundamental
		if f >= top {
			break
		}
		i := s.bin(f)
		h := Harmonic{N: n, Frequency: s.Frequency[i], Magnitude: s.Magnitude[i]}
		if mag > 0 {
			h.DBc = dB(h.Magnitude / mag)
		}
		d.Harmonics = append(d.Harmonics, h)
		sum += h.Magnitude * h.Magnitude
	}
	if mag > 0 {
		d.THD = 100 * math.Sqrt(sum) / mag
	}
	return d
}

// Noise is the result of SNR
type Noise struct {
	// SNR is the signal to noise ratio in dB, +Inf with no noise power
	SNR float64 `json:"snr"`

	// Signal and Noise are summed squared magnitudes in V²
	Signal float64 `json:"signal"`
	Noise  float64 `json:"noise"`

	Frequency float64 `json:"frequency"`
	Bandwidth float64 `json:"bandwidth"`
}

// SNR splits s into the band of the given width centered on freq and
// everything else, and compares their power.  A bandwidth that is not
// positive selects 5% of freq.
func SNR(s Spectrum, freq, bandwidth float64) Noise {
	if bandwidth <= 0 {
		bandwidth = freq * 0.05
	}
	out := Noise{Frequency: freq, Bandwidth: bandwidth}
	lo, hi := freq-bandwidth/2, freq+bandwidth/2
	for i, f := range s.Frequency {
		p := s.Magnitude[i] * s.Magnitude[i]
		if f >= lo && f <= hi {
			out.Signal += p
		} else {
			out.Noise += p
		}
	}
	if out.Noise > 0 {
		out.SNR = 10 * math.Log10(out.Signal/out.Noise)
	} else {
		out.SNR = math.Inf(1)
	}
	return out
}
