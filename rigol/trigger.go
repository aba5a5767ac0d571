package rigol

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/scopelab/rigolab/mathx"
)

// trigger states reported by :TRIGger:STATus?
const (
	Triggered = "TD"
	Waiting   = "WAIT"
	Running   = "RUN"
	Auto      = "AUTO"
	Stopped   = "STOP"
)

// TriggerPollInterval is the spacing of status queries in WaitForTrigger
var TriggerPollInterval = 100 * time.Millisecond

// TriggerStatus returns TD, WAIT, RUN, AUTO or STOP
func (s *Scope) TriggerStatus() (string, error) {
	return s.getString(Query(":TRIGger:STATus"))
}

// EdgeTrigger configures the edge trigger
type EdgeTrigger struct {
	// Source is the channel to trigger on, 1-4
	Source int `json:"source"`

	// Slope is POSitive, NEGative or RFALl
	Slope string `json:"slope"`

	// Level is the trigger level in volts
	Level float64 `json:"level"`

	// Coupling is AC, DC, LFReject or HFReject.  Empty leaves it unchanged.
	Coupling string `json:"coupling,omitempty"`
}

// SetupEdgeTrigger puts the scope in edge trigger mode with the given settings
func (s *Scope) SetupEdgeTrigger(t EdgeTrigger) error {
	src, err := channel(t.Source)
	if err != nil {
		return err
	}
	slope := t.Slope
	if slope == "" {
		slope = "POSitive"
	}
	switch ShortForm(slope) {
	case "POS", "NEG", "RFAL":
	default:
		return errors.Errorf("slope %q is not one of POSitive, NEGative, RFALl", t.Slope)
	}
	cmds := []Command{
		Set(":TRIGger:MODE", "EDGE"),
		Set(":TRIGger:EDGe:SOURce", src),
		Set(":TRIGger:EDGe:SLOPe", slope),
		Set(":TRIGger:EDGe:LEVel", t.Level),
	}
	if t.Coupling != "" {
		cmds = append(cmds, Set(":TRIGger:COUPling", t.Coupling))
	}
	return s.set(cmds...)
}

// PulseTrigger configures the pulse width trigger
type PulseTrigger struct {
	Source int `json:"source"`

	// When is PGReater, PLESs, NGReater, NLESs, PGLess or NGLess
	When string `json:"when"`

	// Width is the pulse width limit in seconds
	Width float64 `json:"width"`

	Level float64 `json:"level"`
}

// SetupPulseTrigger puts the scope in pulse trigger mode with the given settings
func (s *Scope) SetupPulseTrigger(t PulseTrigger) error {
	src, err := channel(t.Source)
	if err != nil {
		return err
	}
	switch ShortForm(t.When) {
	case "PGR", "PLES", "NGR", "NLES", "PGL", "NGL":
	default:
		return errors.Errorf("pulse condition %q is not one of PGReater, PLESs, NGReater, NLESs, PGLess, NGLess", t.When)
	}
	return s.set(
		Set(":TRIGger:MODE", "PULSe"),
		Set(":TRIGger:PULSe:SOURce", src),
		Set(":TRIGger:PULSe:WHEN", t.When),
		Set(":TRIGger:PULSe:WIDTh", t.Width),
		Set(":TRIGger:PULSe:LEVel", t.Level),
	)
}

// SetSweep sets the trigger sweep, AUTO, NORMal or SINGle
func (s *Scope) SetSweep(sweep string) error {
	switch ShortForm(sweep) {
	case "AUTO", "NORM", "SING":
	default:
		return errors.Errorf("sweep %q is not one of AUTO, NORMal, SINGle", sweep)
	}
	return s.set(Set(":TRIGger:SWEep", sweep))
}

// SetTriggerCoupling sets the trigger coupling, AC, DC, LFReject or HFReject
func (s *Scope) SetTriggerCoupling(coupling string) error {
	switch ShortForm(coupling) {
	case "AC", "DC", "LFR", "HFR":
	default:
		return errors.Errorf("trigger coupling %q is not one of AC, DC, LFReject, HFReject", coupling)
	}
	return s.set(Set(":TRIGger:COUPling", coupling))
}

// ForceTrigger generates a trigger event
func (s *Scope) ForceTrigger() error {
	return s.set(Set(":TFORce"))
}

// TriggerInfo summarizes the trigger system
type TriggerInfo struct {
	Mode     string  `json:"mode"`
	Status   string  `json:"status"`
	Sweep    string  `json:"sweep"`
	Coupling string  `json:"coupling"`
	Holdoff  float64 `json:"holdoff"`
	Source   int     `json:"source,omitempty"`
	Slope    string  `json:"slope,omitempty"`
	When     string  `json:"when,omitempty"`
	Width    float64 `json:"width,omitempty"`
	Level    float64 `json:"level"`
}

// TriggerInfo queries the trigger mode and the settings of edge and pulse modes
func (s *Scope) TriggerInfo() (TriggerInfo, error) {
	var info TriggerInfo
	err := s.locked(func(l link) error {
		var err error
		strs := []struct {
			dst *string
			hdr string
		}{
			{&info.Mode, ":TRIGger:MODE"},
			{&info.Status, ":TRIGger:STATus"},
			{&info.Sweep, ":TRIGger:SWEep"},
			{&info.Coupling, ":TRIGger:COUPling"},
		}
		for _, q := range strs {
			if *q.dst, err = l.query(Query(q.hdr)); err != nil {
				return err
			}
		}
		if info.Holdoff, err = l.queryFloat(Query(":TRIGger:HOLDoff")); err != nil {
			return err
		}
		var prefix string
		switch ShortForm(info.Mode) {
		case "EDGE":
			prefix = ":TRIGger:EDGe"
			if info.Slope, err = l.query(Query(prefix + ":SLOPe")); err != nil {
				return err
			}
		case "PULS":
			prefix = ":TRIGger:PULSe"
			if info.When, err = l.query(Query(prefix + ":WHEN")); err != nil {
				return err
			}
			if info.Width, err = l.queryFloat(Query(prefix + ":WIDTh")); err != nil {
				return err
			}
		default:
			return nil
		}
		src, err := l.query(Query(prefix + ":SOURce"))
		if err != nil {
			return err
		}
		if ch, ok := parseSource(src); ok {
			info.Source = int(ch)
		}
		info.Level, err = l.queryFloat(Query(prefix + ":LEVel"))
		return err
	})
	return info, err
}

// WaitForTrigger polls the trigger status until the scope reports TD, the
// timeout elapses, or ctx is done.  Polls are rate limited to one per
// TriggerPollInterval.
func (s *Scope) WaitForTrigger(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(TriggerPollInterval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			// Wait also refuses early when the next poll would land past the deadline
			if ctx.Err() == context.Canceled {
				return ctx.Err()
			}
			return ErrTriggerTimeout
		}
		status, err := s.TriggerStatus()
		if err != nil {
			return err
		}
		if strings.EqualFold(status, Triggered) {
			return nil
		}
	}
}

// AutoTriggerLevel sets the edge trigger level to the midpoint of the
// signal on a channel, rounded to the millivolt, and returns it
func (s *Scope) AutoTriggerLevel(ch int) (float64, error) {
	vmax, err := s.Measure(ch, "VMAX")
	if err != nil {
		return 0, err
	}
	vmin, err := s.Measure(ch, "VMIN")
	if err != nil {
		return 0, err
	}
	if !mathx.Valid(vmax) || !mathx.Valid(vmin) {
		return 0, errors.Errorf("no valid signal on channel %d", ch)
	}
	level := mathx.Round((vmax+vmin)/2, 1e-3)
	return level, s.set(Set(":TRIGger:EDGe:LEVel", level))
}
