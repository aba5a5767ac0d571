package analysis

import (
	"math"
	"sort"
)

// Window names a tapering function applied before a transform
type Window string

const (
	Hann        Window = "hann"
	Hamming     Window = "hamming"
	Blackman    Window = "blackman"
	Bartlett    Window = "bartlett"
	Rectangular Window = "none"
)

// generators are the symmetric forms, w(0) == w(n-1)
var generators = map[Window]func(k, m float64) float64{
	Hann: func(k, m float64) float64 {
		return 0.5 - 0.5*math.Cos(2*math.Pi*k/m)
	},
	Hamming: func(k, m float64) float64 {
		return 0.54 - 0.46*math.Cos(2*math.Pi*k/m)
	},
	Blackman: func(k, m float64) float64 {
		return 0.42 - 0.5*math.Cos(2*math.Pi*k/m) + 0.08*math.Cos(4*math.Pi*k/m)
	},
	Bartlett: func(k, m float64) float64 {
		return 1 - math.Abs(2*k/m-1)
	},
	Rectangular: func(k, m float64) float64 {
		return 1
	},
}

// Windows lists the known window names in sorted order
func Windows() []string {
	out := make([]string, 0, len(generators))
	for w := range generators {
		out = append(out, string(w))
	}
	sort.Strings(out)
	return out
}

// Coefficients returns the n coefficients of the window
func (w Window) Coefficients(n int) ([]float64, error) {
	gen, ok := generators[w]
	if !ok {
		return nil, ErrUnknownWindow
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = 1
		return out, nil
	}
	m := float64(n - 1)
	for k := range out {
		out[k] = gen(float64(k), m)
	}
	return out, nil
}
