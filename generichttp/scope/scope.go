// Package scope provides an HTTP interface to a Rigol DS1000Z oscilloscope
package scope

import (
	"encoding/json"
	"go/types"
	"math"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/scopelab/rigolab/analysis"
	"github.com/scopelab/rigolab/generichttp"
	"github.com/scopelab/rigolab/generichttp/ascii"
	"github.com/scopelab/rigolab/generichttp/tmc"
	"github.com/scopelab/rigolab/monitor"
	"github.com/scopelab/rigolab/rigol"
	"github.com/scopelab/rigolab/util"
)

// HTTPScope wraps a scope session in an HTTP interface
type HTTPScope struct {
	Scope *rigol.Scope

	RouteTable generichttp.RouteTable
}

// RT satisfies generichttp.HTTPer
func (h HTTPScope) RT() generichttp.RouteTable {
	return h.RouteTable
}

// NewHTTPScope builds the route table for s.  If mon is not nil, its
// buffers are served at /monitor and its stream at /monitor/ws.
func NewHTTPScope(s *rigol.Scope, mon *monitor.Monitor) HTTPScope {
	w := HTTPScope{Scope: s}
	rt := generichttp.RouteTable{}
	get := func(path string, h http.HandlerFunc) {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = h
	}
	post := func(path string, h http.HandlerFunc) {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = h
	}
	get("/identity", generichttp.GetString(s.Identity))
	get("/errors", w.GetErrors)
	get("/sample-rate", generichttp.GetFloat(s.SampleRate))
	get("/memory-depth", w.GetMemoryDepth)
	post("/memory-depth", w.SetMemoryDepth)
	get("/acquisition", w.GetAcquisition)
	get("/channels", w.GetChannels)
	get("/preamble", w.GetPreamble)
	get("/waveform", w.GetWaveform)
	get("/spectrum", w.GetSpectrum)
	get("/psd", w.GetPowerSpectrum)
	post("/capture", w.Capture)
	get("/measure", w.GetMeasure)
	get("/screenshot", w.Screenshot)

	post("/run", generichttp.Action(s.Run))
	post("/stop", generichttp.Action(s.Stop))
	post("/single", generichttp.Action(s.Single))
	post("/autoscale", generichttp.Action(s.AutoScale))
	post("/clear", generichttp.Action(s.ClearDisplay))

	get("/timebase", generichttp.GetFloat(s.GetTimebaseScale))
	post("/timebase", generichttp.SetFloat(s.SetTimebaseScale))
	get("/xy", generichttp.GetBool(s.IsXY))
	post("/xy", generichttp.SetBool(s.SetXY))

	get("/trigger/status", generichttp.GetString(s.TriggerStatus))
	get("/trigger/info", w.GetTriggerInfo)
	post("/trigger/force", generichttp.Action(s.ForceTrigger))
	post("/trigger/edge", w.SetEdgeTrigger)
	post("/trigger/sweep", generichttp.SetString(s.SetSweep))
	post("/trigger/wait", w.WaitForTrigger)

	for n := 1; n <= rigol.Generators; n++ {
		gen, err := s.Generator(n)
		if err != nil {
			continue
		}
		sub := generichttp.RouteTable{}
		tmc.HTTPFunctionGenerator(gen, sub)
		rt.Mount("/generator/"+strconv.Itoa(n), sub)
	}
	if mon != nil {
		get("/monitor", mon.HTTPYield)
		get("/monitor/ws", mon.HTTPStream)
	}
	w.RouteTable = rt
	ascii.InjectRawComm(w, s)
	return w
}

// channelParam reads the channel query parameter, defaulting to 1
func channelParam(r *http.Request) (int, error) {
	str := r.URL.Query().Get("channel")
	if str == "" {
		return 1, nil
	}
	return strconv.Atoi(str)
}

// GetErrors drains the error queue and returns it, one error per line
func (h HTTPScope) GetErrors(w http.ResponseWriter, r *http.Request) {
	str, err := h.Scope.AllErrors()
	if err != nil && str == "" {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: str}
	hp.EncodeAndRespond(w, r)
}

// GetMemoryDepth returns the memory depth setting and point count as JSON
func (h HTTPScope) GetMemoryDepth(w http.ResponseWriter, r *http.Request) {
	md, err := h.Scope.MemoryDepth()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, md)
}

// SetMemoryDepth sets the memory depth from {'str': "12M"} and returns
// the depth applied
func (h HTTPScope) SetMemoryDepth(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	md, err := h.Scope.SetMemoryDepth(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, md)
}

// GetAcquisition returns the acquisition summary as JSON
func (h HTTPScope) GetAcquisition(w http.ResponseWriter, r *http.Request) {
	info, err := h.Scope.AcquisitionInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, info)
}

// GetChannels returns the list of enabled channels
func (h HTTPScope) GetChannels(w http.ResponseWriter, r *http.Request) {
	active, err := h.Scope.ActiveChannels()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, active)
}

// GetPreamble returns the waveform preamble of ?channel=
func (h HTTPScope) GetPreamble(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pre, err := h.Scope.Preamble(ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, pre)
}

// GetWaveform returns the on-screen waveform of ?channel=
func (h HTTPScope) GetWaveform(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wav, err := h.Scope.ReadWaveform(ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, wav)
}

// SpectrumReport is the spectrum of a channel and the figures derived from it
type SpectrumReport struct {
	analysis.Spectrum
	Peaks      []analysis.Peak     `json:"peaks"`
	Distortion analysis.Distortion `json:"distortion"`

	// Noise is omitted without a fundamental, or when there is no noise
	// power and the ratio is infinite
	Noise *analysis.Noise `json:"noise,omitempty"`
}

// intParam reads an integer query parameter, def if absent
func intParam(r *http.Request, name string, def int) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return def, nil
	}
	i, err := strconv.Atoi(str)
	if err != nil {
		return 0, errors.Wrapf(err, "query parameter %s", name)
	}
	return i, nil
}

// GetSpectrum transforms the on-screen waveform of ?channel= with the
// ?window= function and reports its ?peaks= tallest peaks and the
// distortion and noise around the tallest, counting ?harmonics= overtones
func (h HTTPScope) GetSpectrum(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	npeaks, err := intParam(r, "peaks", 10)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	harmonics, err := intParam(r, "harmonics", 5)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	win := analysis.Window(r.URL.Query().Get("window"))
	if win == "" {
		win = analysis.Hann
	}
	if _, err := win.Coefficients(1); err != nil {
		http.Error(w, errors.Wrapf(err, "%q", win).Error(), http.StatusBadRequest)
		return
	}
	wav, err := h.Scope.ReadWaveform(ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	spec, err := analysis.FFT(wav, analysis.Options{Window: win})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rep := SpectrumReport{
		Spectrum:   spec,
		Peaks:      analysis.FindPeaks(spec, analysis.PeakOptions{Count: npeaks}),
		Distortion: analysis.THD(spec, 0, harmonics),
	}
	if f := rep.Distortion.Fundamental; f > 0 {
		n := analysis.SNR(spec, f, 0)
		if !math.IsInf(n.SNR, 0) {
			rep.Noise = &n
		}
	}
	generichttp.ReplyWithJSON(w, rep)
}

// GetPowerSpectrum returns the Welch power spectral density of the
// on-screen waveform of ?channel=, in ?segment= point segments
func (h HTTPScope) GetPowerSpectrum(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	segment, err := intParam(r, "segment", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wav, err := h.Scope.ReadWaveform(ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	psd, err := analysis.PowerSpectrum(wav, analysis.Window(r.URL.Query().Get("window")), segment)
	if err != nil {
		code := http.StatusInternalServerError
		if err == analysis.ErrUnknownWindow {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	generichttp.ReplyWithJSON(w, psd)
}

// Capture runs a chunked capture from a JSON rigol.CaptureRequest and
// returns the capture.Result.  The capture is abandoned between chunks if
// the client goes away.
func (h HTTPScope) Capture(w http.ResponseWriter, r *http.Request) {
	req := rigol.CaptureRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.Scope.Capture(r.Context(), req)
	if err != nil {
		code := http.StatusInternalServerError
		if err == rigol.ErrBadChannel {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	generichttp.ReplyWithJSON(w, res)
}

// GetMeasure takes the measurement ?item= on ?channel=
func (h HTTPScope) GetMeasure(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item := r.URL.Query().Get("item")
	if item == "" {
		http.Error(w, "item query parameter is required", http.StatusBadRequest)
		return
	}
	f, err := h.Scope.Measure(ch, item)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.Float64, Float: f}
	hp.EncodeAndRespond(w, r)
}

// Screenshot returns the display as a PNG image
func (h HTTPScope) Screenshot(w http.ResponseWriter, r *http.Request) {
	img, err := h.Scope.Screenshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Write(img)
}

// GetTriggerInfo returns the trigger summary as JSON
func (h HTTPScope) GetTriggerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.Scope.TriggerInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyWithJSON(w, info)
}

// SetEdgeTrigger configures the edge trigger from a JSON rigol.EdgeTrigger
func (h HTTPScope) SetEdgeTrigger(w http.ResponseWriter, r *http.Request) {
	t := rigol.EdgeTrigger{}
	err := json.NewDecoder(r.Body).Decode(&t)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Scope.SetupEdgeTrigger(t); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// WaitForTrigger blocks until the scope triggers, given {'f64': timeout in
// seconds}.  A timeout is reported as 504.
func (h HTTPScope) WaitForTrigger(w http.ResponseWriter, r *http.Request) {
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Scope.WaitForTrigger(r.Context(), util.SecsToDuration(f.F64))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, rigol.ErrTriggerTimeout) {
			code = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusOK)
}
