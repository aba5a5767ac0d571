package rigol

import (
	"strings"

	"github.com/pkg/errors"
)

func (s *Scope) chanHeader(ch int, leaf string) (string, error) {
	src, err := channel(ch)
	if err != nil {
		return "", err
	}
	return ":" + src.String() + ":" + leaf, nil
}

func (s *Scope) chanSet(ch int, leaf string, arg interface{}) error {
	hdr, err := s.chanHeader(ch, leaf)
	if err != nil {
		return err
	}
	return s.set(Set(hdr, arg))
}

func (s *Scope) chanFloat(ch int, leaf string) (float64, error) {
	hdr, err := s.chanHeader(ch, leaf)
	if err != nil {
		return 0, err
	}
	return s.getFloat(Query(hdr))
}

// SetDisplay turns a channel on or off
func (s *Scope) SetDisplay(ch int, on bool) error {
	return s.chanSet(ch, "DISPlay", on)
}

// GetDisplay returns true if the channel is on
func (s *Scope) GetDisplay(ch int) (bool, error) {
	hdr, err := s.chanHeader(ch, "DISPlay")
	if err != nil {
		return false, err
	}
	return s.getBool(Query(hdr))
}

// SetScale sets the vertical scale of a channel in volts per division
func (s *Scope) SetScale(ch int, voltsPerDiv float64) error {
	return s.chanSet(ch, "SCALe", voltsPerDiv)
}

// GetScale returns the vertical scale of a channel in volts per division
func (s *Scope) GetScale(ch int) (float64, error) {
	return s.chanFloat(ch, "SCALe")
}

// SetOffset sets the vertical offset of a channel in volts
func (s *Scope) SetOffset(ch int, volts float64) error {
	return s.chanSet(ch, "OFFSet", volts)
}

// GetOffset returns the vertical offset of a channel in volts
func (s *Scope) GetOffset(ch int) (float64, error) {
	return s.chanFloat(ch, "OFFSet")
}

// SetCoupling sets the input coupling, AC, DC, or GND
func (s *Scope) SetCoupling(ch int, coupling string) error {
	coupling = strings.ToUpper(coupling)
	switch coupling {
	case "AC", "DC", "GND":
	default:
		return errors.Errorf("coupling %q is not one of AC, DC, GND", coupling)
	}
	return s.chanSet(ch, "COUPling", coupling)
}

// probeRatios are the attenuations the DS1000Z accepts
var probeRatios = []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000}

// SetProbe sets the probe attenuation ratio, e.g. 10 for a 10:1 probe
func (s *Scope) SetProbe(ch int, ratio float64) error {
	for _, r := range probeRatios {
		if r == ratio {
			return s.chanSet(ch, "PROBe", ratio)
		}
	}
	return errors.Errorf("probe ratio %g is not supported", ratio)
}

// SetBandwidthLimit engages the 20 MHz bandwidth limit on a channel.
// If it is on, the noise is greatly reduced.
func (s *Scope) SetBandwidthLimit(ch int, on bool) error {
	mnemonic := "OFF"
	if on {
		mnemonic = "20M"
	}
	return s.chanSet(ch, "BWLimit", mnemonic)
}

// ActiveChannels returns the channels which are displayed, in ascending order
func (s *Scope) ActiveChannels() ([]int, error) {
	var active []int
	err := s.locked(func(l link) error {
		var err error
		active, err = activeChannels(l)
		return err
	})
	return active, err
}

func activeChannels(l link) ([]int, error) {
	var active []int
	for ch := 1; ch <= Channels; ch++ {
		on, err := l.queryBool(Query(":" + Source(ch).String() + ":DISPlay"))
		if err != nil {
			return nil, err
		}
		if on {
			active = append(active, ch)
		}
	}
	return active, nil
}

// SetTimebaseScale sets the horizontal scale in seconds per division
func (s *Scope) SetTimebaseScale(secsPerDiv float64) error {
	return s.set(Set(":TIMebase:MAIN:SCALe", secsPerDiv))
}

// GetTimebaseScale returns the horizontal scale in seconds per division
func (s *Scope) GetTimebaseScale() (float64, error) {
	return s.getFloat(Query(":TIMebase:MAIN:SCALe"))
}

// SetXY switches the display between XY mode and the normal YT timebase
func (s *Scope) SetXY(on bool) error {
	mode := "MAIN"
	if on {
		mode = "XY"
	}
	return s.set(Set(":TIMebase:MODE", mode))
}

// IsXY returns true if the scope is in XY mode
func (s *Scope) IsXY() (bool, error) {
	mode, err := s.getString(Query(":TIMebase:MODE"))
	return strings.EqualFold(mode, "XY"), err
}
