package rigol

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/scopelab/rigolab/mathx"
)

// memory depths in points, by the label the front panel uses
var depthLabels = map[string]int{
	"12k":  12000,
	"120k": 120000,
	"1.2M": 1200000,
	"3M":   3000000,
	"6M":   6000000,
	"12M":  12000000,
	"24M":  24000000,
}

// DepthAuto is the automatic memory depth setting
const DepthAuto = "AUTO"

// ParseMemoryDepth converts a depth label ("12M") or point count ("12000000",
// "1.2e+07") to a number of points.  AUTO and unknown values return false.
func ParseMemoryDepth(str string) (int, bool) {
	str = strings.TrimSpace(str)
	if pts, ok := depthLabels[str]; ok {
		return pts, true
	}
	for label, pts := range depthLabels {
		if strings.EqualFold(label, str) {
			return pts, true
		}
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int(f), true
}

// MaxMemoryDepth is the deepest memory available with n channels enabled.
// Interleaving halves the depth for two channels and quarters it for three
// or four.  deep is set for scopes with the 24M option.
func MaxMemoryDepth(n int, deep bool) int {
	limit := 12000000
	if deep {
		limit = 24000000
	}
	switch {
	case n <= 1:
		return limit
	case n == 2:
		return limit / 2
	default:
		return limit / 4
	}
}

// MemoryDepth is the memory depth setting and the number of points it yields
type MemoryDepth struct {
	// Setting is the raw response to :ACQuire:MDEPth?, a point count or AUTO
	Setting string `json:"setting"`

	Points int `json:"points"`
}

// Auto returns true if the scope chooses the depth itself
func (m MemoryDepth) Auto() bool {
	return strings.EqualFold(m.Setting, DepthAuto)
}

// MemoryDepth returns the current memory depth.  AUTO is resolved to
// a point count with :ACQuire:POINts?
func (s *Scope) MemoryDepth() (MemoryDepth, error) {
	var md MemoryDepth
	err := s.locked(func(l link) error {
		var err error
		md, err = memoryDepth(l)
		return err
	})
	return md, err
}

func memoryDepth(l link) (MemoryDepth, error) {
	var md MemoryDepth
	setting, err := l.query(Query(":ACQuire:MDEPth"))
	if err != nil {
		return md, err
	}
	md.Setting = setting
	if pts, ok := ParseMemoryDepth(setting); ok {
		md.Points = pts
		return md, nil
	}
	if !md.Auto() {
		return md, errors.Errorf("rigol: unrecognized memory depth %q", setting)
	}
	md.Points, err = l.queryInt(Query(":ACQuire:POINts"))
	return md, err
}

// SetMemoryDepth sets the memory depth to a label ("12M"), a point count,
// or AUTO.  A depth deeper than the enabled channels allow is lowered to the
// maximum.  Acquisition is stopped for the change and restarted afterwards.
// The depth actually applied is returned.
func (s *Scope) SetMemoryDepth(depth string) (MemoryDepth, error) {
	var md MemoryDepth
	arg := DepthAuto
	var want int
	if !strings.EqualFold(depth, DepthAuto) {
		var ok bool
		want, ok = ParseMemoryDepth(depth)
		if !ok || !validDepth(want) {
			return md, errors.Errorf("memory depth %q is not one of 12k, 120k, 1.2M, 3M, 6M, 12M, 24M, AUTO", depth)
		}
	}
	err := s.locked(func(l link) error {
		if err := l.set(Set(":STOP")); err != nil {
			return err
		}
		defer func() {
			if err := l.set(Set(":RUN")); err != nil {
				s.log.Warn("could not resume acquisition", "err", err)
			}
		}()
		if want > 0 {
			active, err := activeChannels(l)
			if err != nil {
				return err
			}
			if limit := MaxMemoryDepth(len(active), s.deepMemory); want > limit {
				s.log.Info("memory depth lowered for enabled channels", "requested", want, "applied", limit, "channels", len(active))
				want = limit
			}
			arg = strconv.Itoa(want)
		}
		if err := l.set(Set(":ACQuire:MDEPth", arg)); err != nil {
			return err
		}
		var err error
		md, err = memoryDepth(l)
		return err
	})
	return md, err
}

func validDepth(pts int) bool {
	for _, v := range depthLabels {
		if v == pts {
			return true
		}
	}
	return false
}

// SetAcquisitionType sets NORMal, AVERages, PEAK or HRESolution acquisition
func (s *Scope) SetAcquisitionType(typ string) error {
	switch ShortForm(typ) {
	case "NORM", "AVER", "PEAK", "HRES":
	default:
		return errors.Errorf("acquisition type %q is not one of NORMal, AVERages, PEAK, HRESolution", typ)
	}
	return s.set(Set(":ACQuire:TYPE", strings.ToUpper(typ)))
}

// SetAverages selects averaging with n acquisitions, a power of two 2..1024
func (s *Scope) SetAverages(n int) error {
	if n < 2 || n > 1024 || !mathx.IsPowerOfTwo(n) {
		return errors.Errorf("averages %d is not a power of two in 2..1024", n)
	}
	return s.set(Set(":ACQuire:TYPE", "AVERages"), Set(":ACQuire:AVERages", n))
}

// AcquisitionInfo summarizes the acquisition system
type AcquisitionInfo struct {
	Type        string      `json:"type"`
	Averages    int         `json:"averages,omitempty"`
	MemoryDepth MemoryDepth `json:"memoryDepth"`
	SampleRate  float64     `json:"sampleRate"`
}

// AcquisitionInfo queries the acquisition type, depth and sample rate
func (s *Scope) AcquisitionInfo() (AcquisitionInfo, error) {
	var info AcquisitionInfo
	err := s.locked(func(l link) error {
		var err error
		if info.Type, err = l.query(Query(":ACQuire:TYPE")); err != nil {
			return err
		}
		if ShortForm(info.Type) == "AVER" {
			if info.Averages, err = l.queryInt(Query(":ACQuire:AVERages")); err != nil {
				return err
			}
		}
		if info.MemoryDepth, err = memoryDepth(l); err != nil {
			return err
		}
		info.SampleRate, err = l.queryFloat(Query(":ACQuire:SRATe"))
		return err
	})
	return info, err
}

// SampleRate returns the current sample rate in samples per second
func (s *Scope) SampleRate() (float64, error) {
	return s.getFloat(Query(":ACQuire:SRATe"))
}

// Run starts continuous acquisition
func (s *Scope) Run() error {
	return s.set(Set(":RUN"))
}

// Stop halts acquisition
func (s *Scope) Stop() error {
	return s.set(Set(":STOP"))
}

// Single arms a single acquisition
func (s *Scope) Single() error {
	return s.set(Set(":SINGle"))
}

// AutoScale runs the front panel AUTO function
func (s *Scope) AutoScale() error {
	return s.set(Set(":AUToscale"))
}

// ClearDisplay clears all waveforms from the screen
func (s *Scope) ClearDisplay() error {
	return s.set(Set(":CLEar"))
}
