package rigol

import (
	"github.com/pkg/errors"
)

// MeasureItems are the automatic measurements understood by Measure
var MeasureItems = []string{"VPP", "VMAX", "VMIN", "VAVG", "VRMS", "FREQuency", "PERiod", "RTIMe", "FTIMe"}

func measureItem(item string) (string, error) {
	short := ShortForm(item)
	for _, it := range MeasureItems {
		if ShortForm(it) == short {
			return it, nil
		}
	}
	return "", errors.Errorf("measurement %q is not one of %v", item, MeasureItems)
}

// Measure returns a single automatic measurement of a channel.  The scope
// reports 9.9e37 when it cannot make the measurement; see mathx.Valid.
func (s *Scope) Measure(ch int, item string) (float64, error) {
	src, err := channel(ch)
	if err != nil {
		return 0, err
	}
	it, err := measureItem(item)
	if err != nil {
		return 0, err
	}
	return s.getFloat(Query(":MEASure:ITEM", it, src))
}

// Statistics holds the statistics the scope keeps for a measurement
type Statistics struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Statistics enables measurement statistics for an item on a channel and
// returns the current, average, minimum and maximum values
func (s *Scope) Statistics(ch int, item string) (Statistics, error) {
	var st Statistics
	src, err := channel(ch)
	if err != nil {
		return st, err
	}
	it, err := measureItem(item)
	if err != nil {
		return st, err
	}
	err = s.locked(func(l link) error {
		if err := l.set(
			Set(":MEASure:STATistic:MODE", "EXTRemum"),
			Set(":MEASure:STATistic:ITEM", it, src),
		); err != nil {
			return err
		}
		fields := []struct {
			dst  *float64
			kind string
		}{
			{&st.Current, "CURRent"},
			{&st.Average, "AVERages"},
			{&st.Min, "MINimum"},
			{&st.Max, "MAXimum"},
		}
		for _, f := range fields {
			v, err := l.queryFloat(Query(":MEASure:STATistic:ITEM", f.kind, it, src))
			if err != nil {
				return err
			}
			*f.dst = v
		}
		return nil
	})
	return st, err
}

// ResetStatistics clears the accumulated measurement statistics
func (s *Scope) ResetStatistics() error {
	return s.set(Set(":MEASure:STATistic:RESet"))
}
