package rigol

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/scopelab/rigolab/comm"
	"github.com/scopelab/rigolab/oscilloscope"
	"github.com/scopelab/rigolab/scpi"
)

// MockIdentity is the *IDN? response of a MockInstrument
const MockIdentity = "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA000000001,00.04.04.SP4"

const (
	// maxRawBlock is the most points a DS1000Z returns per BYTE block in RAW mode
	maxRawBlock = 250000

	// codes per vertical division
	codesPerDiv = 25

	mockSampleRate = 1e9
)

// MockInstrument simulates a DS1104Z at the SCPI byte level.  It is an
// io.ReadWriteCloser, so a Scope can use it through Options.Maker:
//
//	mock := rigol.NewMockInstrument()
//	scope, _ := rigol.NewScope(rigol.Options{Maker: mock.Maker()})
//
// Settings are kept in a map keyed by the short form of the header.
// :WAVeform:DATA? honors STARt and STOP and returns a deterministic sine
// per channel.  Queries with no answer produce no response, so the reader
// sees a timeout, as it would with a real scope.
type MockInstrument struct {
	mu       sync.Mutex
	settings map[string]string
	errs     []string
	in       bytes.Buffer
	out      bytes.Buffer
	log      []string

	running     bool
	dataQueries int
	dropData    map[int]bool
	singleWaits int
	screenshot  []byte
}

// NewMockInstrument returns a running instrument with channels 1 and 2 enabled
func NewMockInstrument() *MockInstrument {
	m := &MockInstrument{settings: map[string]string{}, dropData: map[int]bool{}, running: true}
	defaults := map[string]string{
		":ACQuire:MDEPth":         DepthAuto,
		":ACQuire:TYPE":           "NORM",
		":ACQuire:AVERages":       "2",
		":ACQuire:SRATe":          "1.000000e+09",
		":TIMebase:MAIN:SCALe":    "1.000000e-06",
		":TIMebase:MODE":          "MAIN",
		":TRIGger:MODE":           "EDGE",
		":TRIGger:SWEep":          "AUTO",
		":TRIGger:COUPling":       "DC",
		":TRIGger:HOLDoff":        "1.600000e-08",
		":TRIGger:EDGe:SOURce":    "CHAN1",
		":TRIGger:EDGe:SLOPe":     "POS",
		":TRIGger:EDGe:LEVel":     "0.000000e+00",
		":TRIGger:PULSe:SOURce":   "CHAN1",
		":TRIGger:PULSe:WHEN":     "PGR",
		":TRIGger:PULSe:WIDTh":    "1.000000e-06",
		":TRIGger:PULSe:LEVel":    "0.000000e+00",
		":WAVeform:SOURce":        "CHAN1",
		":WAVeform:MODE":          "NORM",
		":WAVeform:FORMat":        "BYTE",
		":WAVeform:STARt":         "1",
		":WAVeform:STOP":          "1200",
		":MEASure:STATistic:MODE": "EXTR",
		":SOURce1:FUNCtion":       "SIN",
		":SOURce1:FREQuency":      "1.000000e+03",
		":SOURce1:VOLTage":        "1.000000e+00",
		":SOURce1:VOLTage:OFFSet": "0.000000e+00",
		":SOURce1:OUTPut":         "0",
		":SOURce2:FUNCtion":       "SIN",
		":SOURce2:FREQuency":      "1.000000e+03",
		":SOURce2:VOLTage":        "1.000000e+00",
		":SOURce2:VOLTage:OFFSet": "0.000000e+00",
		":SOURce2:OUTPut":         "0",
	}
	for k, v := range defaults {
		m.settings[ShortForm(k)] = v
	}
	for ch := 1; ch <= Channels; ch++ {
		p := ":CHANnel" + strconv.Itoa(ch)
		on := "0"
		if ch <= 2 {
			on = "1"
		}
		m.settings[ShortForm(p+":DISPlay")] = on
		m.settings[ShortForm(p+":SCALe")] = "1.000000e+00"
		m.settings[ShortForm(p+":OFFSet")] = "0.000000e+00"
		m.settings[ShortForm(p+":COUPling")] = "DC"
		m.settings[ShortForm(p+":PROBe")] = "1.000000e+00"
		m.settings[ShortForm(p+":BWLimit")] = "OFF"
	}
	return m
}

// Maker returns a connection factory that hands out this instrument
func (m *MockInstrument) Maker() comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) { return m, nil }
}

// Write accepts one or more newline terminated program messages
func (m *MockInstrument) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in.Write(b)
	for {
		line, err := m.in.ReadString('\n')
		if err != nil {
			// incomplete message, keep it for the next write
			m.in.Reset()
			m.in.WriteString(line)
			break
		}
		for _, unit := range strings.Split(strings.TrimSpace(line), ";") {
			if unit = strings.TrimSpace(unit); unit != "" {
				m.handle(unit)
			}
		}
	}
	return len(b), nil
}

// Read returns pending response bytes, or a timeout if there are none
func (m *MockInstrument) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out.Len() == 0 {
		return 0, &comm.TimeoutError{Op: "read", Err: errors.New("mock instrument has no response pending")}
	}
	return m.out.Read(b)
}

// Close drops any buffered traffic, as closing a socket would.
// The instrument state is kept.
func (m *MockInstrument) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in.Reset()
	m.out.Reset()
	return nil
}

// Log returns every program message received, in order
func (m *MockInstrument) Log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.log...)
}

// Setting returns the stored value for a header, in any long or short form
func (m *MockInstrument) Setting(header string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[ShortForm(header)]
}

// DropData makes the n-th (1-based) :WAVeform:DATA? query go unanswered
func (m *MockInstrument) DropData(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropData[n] = true
}

// MockSample is the raw code a MockInstrument returns for the 1-based
// point i of a channel: a sine with a period of 1000*ch points
func MockSample(ch, i int) byte {
	period := float64(1000 * ch)
	return byte(127 + math.Round(100*math.Sin(2*math.Pi*float64(i-1)/period)))
}

func (m *MockInstrument) pushError(code int, msg string) {
	m.errs = append(m.errs, fmt.Sprintf("%d,\"%s\"", code, msg))
}

func (m *MockInstrument) respond(s string) {
	m.out.WriteString(s)
	m.out.WriteByte('\n')
}

func (m *MockInstrument) respondBlock(data []byte) {
	m.out.Write(scpi.EncodeBlock(data))
	m.out.WriteByte('\n')
}

func (m *MockInstrument) float(key string) float64 {
	f, _ := strconv.ParseFloat(m.settings[key], 64)
	return f
}

func (m *MockInstrument) int(key string) int {
	f, _ := strconv.ParseFloat(m.settings[key], 64)
	return int(f)
}

func (m *MockInstrument) enabled() int {
	n := 0
	for ch := 1; ch <= Channels; ch++ {
		if m.settings[":CHAN"+strconv.Itoa(ch)+":DISP"] == "1" {
			n++
		}
	}
	return n
}

// memoryPoints is the sample memory depth of the current setting
func (m *MockInstrument) memoryPoints() int {
	if pts, ok := ParseMemoryDepth(m.settings[":ACQ:MDEP"]); ok {
		return pts
	}
	return 12000
}

func (m *MockInstrument) sourceChannel() int {
	if src, ok := parseSource(m.settings[":WAV:SOUR"]); ok {
		return int(src)
	}
	return 1
}

func (m *MockInstrument) scaling(ch int) oscilloscope.ScalingParameters {
	chs := ":CHAN" + strconv.Itoa(ch)
	xinc := 1 / mockSampleRate
	if ShortForm(m.settings[":WAV:MODE"]) != "RAW" {
		xinc = m.float(":TIM:MAIN:SCAL") * 12 / ScreenPoints
	}
	return oscilloscope.ScalingParameters{
		TimeIncrement:    xinc,
		TimeOrigin:       -6 * m.float(":TIM:MAIN:SCAL"),
		VoltageIncrement: m.float(chs+":SCAL") / codesPerDiv,
		VoltageOrigin:    -m.float(chs + ":OFFS"),
		VoltageReference: 127,
	}
}

func (m *MockInstrument) preamble() string {
	ch := m.sourceChannel()
	s := m.scaling(ch)
	typ, points := 0, ScreenPoints
	if ShortForm(m.settings[":WAV:MODE"]) == "RAW" {
		typ, points = 2, m.memoryPoints()
	}
	return oscilloscope.Preamble{
		Format: 0, Type: typ, Points: points, Count: 1,
		XIncrement: s.TimeIncrement, XOrigin: s.TimeOrigin,
		YIncrement: s.VoltageIncrement, YOrigin: s.VoltageOrigin, YReference: s.VoltageReference,
	}.String()
}

func (m *MockInstrument) waveformData() {
	m.dataQueries++
	if m.dropData[m.dataQueries] {
		return
	}
	ch := m.sourceChannel()
	start, stop := m.int(":WAV:STAR"), m.int(":WAV:STOP")
	limit := ScreenPoints
	if ShortForm(m.settings[":WAV:MODE"]) == "RAW" {
		if m.running {
			m.pushError(-221, "Settings conflict")
			m.respondBlock(nil)
			return
		}
		limit = m.memoryPoints()
		if stop-start+1 > maxRawBlock {
			m.pushError(-222, "Data out of range")
			m.respondBlock(nil)
			return
		}
	}
	if stop > limit {
		stop = limit
	}
	if start < 1 || start > stop {
		m.respondBlock(nil)
		return
	}
	data := make([]byte, stop-start+1)
	for i := range data {
		data[i] = MockSample(ch, start+i)
	}
	m.respondBlock(data)
}

func (m *MockInstrument) measure(item string, ch int) float64 {
	if m.settings[":CHAN"+strconv.Itoa(ch)+":DISP"] != "1" {
		return 9.9e37
	}
	s := m.scaling(ch)
	amp := 100 * s.VoltageIncrement
	offs := s.VoltageOrigin
	switch ShortForm(item) {
	case "VPP":
		return 2 * amp
	case "VMAX":
		return offs + amp
	case "VMIN":
		return offs - amp
	case "VAVG":
		return offs
	case "VRMS":
		return math.Sqrt(offs*offs + amp*amp/2)
	case "FREQ":
		return mockSampleRate / float64(1000*ch)
	case "PER":
		return float64(1000*ch) / mockSampleRate
	}
	return 9.9e37
}

func (m *MockInstrument) triggerStatus() string {
	if m.singleWaits > 0 {
		m.singleWaits--
		if m.singleWaits == 0 {
			m.running = false
			return Triggered
		}
		return Waiting
	}
	if !m.running {
		return Stopped
	}
	if ShortForm(m.settings[":TRIG:SWE"]) == "AUTO" {
		return Auto
	}
	return Triggered
}

func (m *MockInstrument) png() []byte {
	if m.screenshot != nil {
		return m.screenshot
	}
	const w, h = 800, 480
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.Black, color.RGBA{0xf7, 0xe0, 0x1d, 0xff}})
	for x := 0; x < w; x++ {
		y := h/2 - int(MockSample(1, x*1000/w+1)) + 127
		img.SetColorIndex(x, y, 1)
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	m.screenshot = buf.Bytes()
	return m.screenshot
}

// boolArg maps ON/OFF to 1/0, as the scope reports switches
func boolArg(key, arg string) string {
	if strings.HasSuffix(key, ":BWL") {
		return arg
	}
	switch strings.ToUpper(arg) {
	case "ON":
		return "1"
	case "OFF":
		return "0"
	}
	return arg
}

func (m *MockInstrument) handle(unit string) {
	m.log = append(m.log, unit)
	header, argstr := unit, ""
	if idx := strings.IndexByte(unit, ' '); idx != -1 {
		header, argstr = unit[:idx], strings.TrimSpace(unit[idx+1:])
	}
	query := strings.HasSuffix(header, "?")
	key := ShortForm(strings.TrimSuffix(header, "?"))
	var args []string
	if argstr != "" {
		args = strings.Split(argstr, ",")
	}

	if query {
		switch key {
		case "*IDN":
			m.respond(MockIdentity)
		case "*OPC":
			m.respond("1")
		case ":SYST:ERR":
			if len(m.errs) == 0 {
				m.respond(`0,"No error"`)
				return
			}
			m.respond(m.errs[0])
			m.errs = m.errs[1:]
		case ":TRIG:STAT":
			m.respond(m.triggerStatus())
		case ":ACQ:POIN":
			m.respond(strconv.Itoa(m.memoryPoints()))
		case ":WAV:PRE":
			m.respond(m.preamble())
		case ":WAV:DATA":
			m.waveformData()
		case ":DISP:DATA":
			m.respondBlock(m.png())
		case ":MEAS:ITEM":
			if len(args) != 2 {
				m.pushError(-109, "Missing parameter")
				return
			}
			src, _ := parseSource(args[1])
			m.respond(strconv.FormatFloat(m.measure(args[0], int(src)), 'E', 6, 64))
		case ":MEAS:STAT:ITEM":
			if len(args) != 3 {
				m.pushError(-109, "Missing parameter")
				return
			}
			src, _ := parseSource(args[2])
			m.respond(strconv.FormatFloat(m.measure(args[1], int(src)), 'E', 6, 64))
		default:
			v, ok := m.settings[key]
			if !ok {
				m.pushError(-113, "Undefined header")
				return
			}
			m.respond(v)
		}
		return
	}

	switch key {
	case "*CLS":
		m.errs = nil
	case ":RUN":
		m.running = true
		m.singleWaits = 0
	case ":STOP":
		m.running = false
		m.singleWaits = 0
	case ":SING":
		m.running = true
		m.singleWaits = 3
	case ":TFOR":
		if m.singleWaits > 0 {
			m.singleWaits = 1
		}
	case ":AUT", ":CLE", ":MEAS:STAT:RES":
	case ":ACQ:MDEP":
		if len(args) != 1 {
			m.pushError(-109, "Missing parameter")
			return
		}
		if strings.EqualFold(args[0], DepthAuto) {
			m.settings[key] = DepthAuto
			return
		}
		pts, ok := ParseMemoryDepth(args[0])
		if !ok || !validDepth(pts) || pts > MaxMemoryDepth(m.enabled(), false) {
			m.pushError(-224, "Illegal parameter value")
			return
		}
		m.settings[key] = strconv.Itoa(pts)
	case ":MEAS:STAT:ITEM":
	default:
		if len(args) == 0 {
			m.pushError(-109, "Missing parameter")
			return
		}
		if _, ok := m.settings[key]; !ok {
			m.pushError(-113, "Undefined header")
			return
		}
		m.settings[key] = boolArg(key, argstr)
	}
}
